package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/dustin/go-humanize"
	"github.com/massget/massget"
	"github.com/massget/massget/internal/config"
	urfave "github.com/urfave/cli/v2"
	"gitlab.com/poldi1405/go-indicators/progress"
	"golang.org/x/term"
)

// Exit codes
const (
	ExitSuccess     = 0
	ExitFailed      = 1
	ExitInvalidArgs = 2
	ExitCancelled   = 130
)

var version = "dev"

func main() {

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &urfave.App{
		Name:      "massget",
		Usage:     "Parallel range downloader that forks slow ranges onto new connections.",
		Version:   version,
		ArgsUsage: "URL",
		Flags: []urfave.Flag{
			&urfave.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Usage:   "Destination directory.",
			},
			&urfave.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file.",
				EnvVars: []string{"MASSGET_CONFIG"},
			},
			&urfave.IntFlag{
				Name:  "concurrency",
				Usage: "Maximum getters running at the same time.",
			},
			&urfave.StringFlag{
				Name:  "buffer",
				Usage: "Write buffer size, e.g. 64MiB.",
			},
			&urfave.IntFlag{
				Name:  "retry",
				Usage: "Attempts without progress before a range fails.",
			},
			&urfave.StringSliceFlag{
				Name:    "header",
				Aliases: []string{"H"},
				Usage:   "Extra request header \"key: value\", can be repeated.",
			},
			&urfave.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error.",
			},
			&urfave.BoolFlag{
				Name:  "no-bar",
				Usage: "Don't show the progress bar.",
			},
		},
		Action: run,
	}

	// Exit coders are handled by the app itself.
	if err := app.RunContext(ctx, os.Args); err != nil {
		log.WithError(err).Error("massget")
		os.Exit(ExitFailed)
	}
}

func run(c *urfave.Context) error {

	url := c.Args().First()

	if url == "" {
		return urfave.Exit("Empty download url.", ExitInvalidArgs)
	}

	if !(strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")) {
		url = "https://" + url
	}

	cfg, err := loadConfig(c)

	if err != nil {
		return urfave.Exit(err, ExitInvalidArgs)
	}

	level, _ := log.ParseLevel(cfg.Log.Level)
	log.SetHandler(cli.New(os.Stderr))
	log.SetLevel(level)

	opts := cfg.Options()
	opts.Logger = log.Log

	d, err := massget.NewDownload(c.Context, url, cfg.Download.Dir, opts)

	if err != nil {
		return urfave.Exit(err, ExitFailed)
	}

	if err := d.Start(); err != nil {
		return urfave.Exit(err, ExitFailed)
	}

	fmt.Printf("Downloading %s (%s)\n", color(d.Filename()), humanize.IBytes(uint64(d.Length())))

	// An interrupt cancels c.Context, which cancels the download.
	go d.RunProgress(progressFunc(c.Bool("no-bar")))

	err = d.Join()
	fmt.Println()

	if errors.Is(err, massget.ErrCancelled) {
		return urfave.Exit("Cancelled.", ExitCancelled)
	}

	if err != nil {
		return urfave.Exit(err, ExitFailed)
	}

	if failed, _ := d.IsFailed(); failed {
		return urfave.Exit("Download failed.", ExitFailed)
	}

	fmt.Printf("Done: %s in %s, avg %s/s\n",
		d.Path(),
		d.TotalCost().Round(time.Millisecond),
		humanize.IBytes(d.AvgSpeed()),
	)

	return nil
}

// loadConfig reads the config file and applies the command line flags on top.
func loadConfig(c *urfave.Context) (*config.Config, error) {

	cfg, err := config.Load(c.String("config"))

	if err != nil {
		return nil, err
	}

	if c.IsSet("dir") {
		cfg.Download.Dir = c.String("dir")
	}

	if c.IsSet("concurrency") {
		cfg.Fork.MaxGetters = c.Int("concurrency")
	}

	if c.IsSet("buffer") {
		cfg.Download.Buffer = c.String("buffer")
	}

	if c.IsSet("retry") {
		cfg.Retry.Count = c.Int("retry")
	}

	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}

	cfg.Download.Headers = append(cfg.Download.Headers, c.StringSlice("header")...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func progressFunc(noBar bool) massget.ProgressFunc {

	p := new(progress.Progress)
	p.SetStyle(progressStyle)

	return func(d *massget.Download) {

		// 70 is an estimation of the text showed with the progress.
		p.Width = getWidth() - 70

		perc, err := progress.GetPercentage(float64(d.Size()), float64(d.Length()))
		if err != nil {
			perc = 100
		}

		var bar string
		if !noBar && p.Width > 0 {
			bar = r + p.GetBar(perc, 100) + l
		}

		fmt.Printf(
			" %6.2f%% %s %s/%s @ %s/s [%d/%d]%s\r",
			perc,
			bar,
			humanize.IBytes(uint64(d.Size())),
			humanize.IBytes(uint64(d.Length())),
			humanize.IBytes(d.Speed()),
			d.Healthy(),
			d.Alive(),
			clearRight(),
		)
	}
}

func getWidth() int {
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}
	return 80
}
