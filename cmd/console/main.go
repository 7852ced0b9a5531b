package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/Brownie44l1/plant-disease-api/internal/acquire"
	"github.com/Brownie44l1/plant-disease-api/internal/app"
	"github.com/Brownie44l1/plant-disease-api/internal/config"
	"github.com/Brownie44l1/plant-disease-api/internal/device"
)

const help = `Commands:
  select   pick an image file and classify it
  capture  take a photo with the camera command and classify it
  show     print the current result
  history  list recent detections
  help     show this help
  quit     exit`

func main() {
	err := mainImpl()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func mainImpl() error {
	configPath := flag.String("config", "config.toml", "path to the TOML config file")
	flag.Parse()

	root := config.ProjectRoot()
	if !filepath.IsAbs(*configPath) {
		*configPath = filepath.Join(root, *configPath)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	cfg.ResolvePaths(root)

	// Keep the terminal for the conversation.
	logOut := io.Discard
	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		logOut = f
	}
	log.SetOutput(logOut)

	rl, err := readline.New("> ")
	if err != nil {
		return err
	}
	defer func() {
		_ = rl.Close()
	}()

	prompt := func(question string) (string, error) {
		rl.SetPrompt(question)
		defer rl.SetPrompt("> ")
		return rl.Readline()
	}

	dev := app.Devices{
		Picker:      &device.PathPicker{Prompt: prompt},
		Permissions: &device.PromptPermissions{Prompt: prompt},
		Notify:      func(msg string) { fmt.Printf("[%s]\n", msg) },
	}
	if len(cfg.Camera.Command) > 0 {
		dev.Capturer = &device.CommandCapturer{Command: cfg.Camera.Command}
	}

	session, closeSession := app.Load(cfg, dev)
	defer closeSession()

	fmt.Println(help)
	if text := session.Display().Text; text != "" {
		fmt.Println(text)
	}

	ctx := context.Background()
	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF or interrupt
			break
		}
		switch cmd := strings.ToLower(strings.TrimSpace(line)); cmd {
		case "":
		case "select", "capture":
			kind := acquire.KindGallery
			if cmd == "capture" {
				kind = acquire.KindCamera
			}
			res, err := session.Run(ctx, kind)
			if err != nil {
				fmt.Println(err)
				continue
			}
			if res.Text != "" {
				fmt.Println(res.Text)
			} else if errors.Is(res.Err, acquire.ErrCancelled) {
				fmt.Println("Cancelled.")
			}
		case "show":
			snap := session.Display()
			if snap.Image != nil {
				b := snap.Image.Bounds()
				fmt.Printf("Image: %dx%d\n", b.Dx(), b.Dy())
			}
			fmt.Println(snap.Text)
		case "history":
			entries, err := session.History(ctx, cfg.History.Limit)
			if err != nil {
				fmt.Println(err)
				continue
			}
			for _, e := range entries {
				name := e.Class
				if name == "" {
					name = "-"
				}
				fmt.Printf("%s  %-8s %-14s %-30s %5.1f%%\n",
					e.CreatedAt.Format("2006-01-02 15:04:05"), e.Source, e.Outcome, name, e.Confidence)
			}
		case "help":
			fmt.Println(help)
		case "quit", "exit":
			return nil
		default:
			fmt.Printf("Unknown command %q. Type help.\n", cmd)
		}
	}
	return nil
}
