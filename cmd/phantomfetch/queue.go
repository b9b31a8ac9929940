// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/phantomfetch/phantomfetch/internal/buildinfo"
	"github.com/phantomfetch/phantomfetch/internal/config"
	"github.com/phantomfetch/phantomfetch/internal/models"
	"github.com/phantomfetch/phantomfetch/internal/queue"
	"github.com/phantomfetch/phantomfetch/internal/services/classifier"
)

type queueFlags struct {
	configDir string
	dataDir   string
}

func (f *queueFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")
	cmd.PersistentFlags().StringVar(&f.dataDir, "data-dir", "",
		"data directory path (defaults to next to config file)")
}

func (f *queueFlags) open() (*config.AppConfig, *queue.Store, error) {
	cfg, err := config.New(f.configDir, buildinfo.Version)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize configuration: %w", err)
	}
	if f.dataDir != "" {
		cfg.SetDataDir(f.dataDir)
	}

	store, err := queue.NewStore(cfg.GetQueueDir())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open queues: %w", err)
	}
	return cfg, store, nil
}

func parseCategoryArg(arg string) (models.Category, error) {
	c, err := models.ParseCategory(arg)
	if err != nil {
		return models.CategoryUnknown, fmt.Errorf("%w (expected movie, tv or music)", err)
	}
	return c, nil
}

func RunQueueCommand() *cobra.Command {
	flags := &queueFlags{}

	command := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and edit the request queues",
	}
	flags.register(command)

	command.AddCommand(&cobra.Command{
		Use:   "list [category]",
		Short: "List queued titles",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := flags.open()
			if err != nil {
				return err
			}

			categories := models.Categories
			if len(args) == 1 {
				c, err := parseCategoryArg(args[0])
				if err != nil {
					return err
				}
				categories = []models.Category{c}
			}

			for _, c := range categories {
				titles, err := store.List(c)
				if err != nil {
					return err
				}
				cmd.Printf("%s (%d)\n", c.Label(), len(titles))
				for i, title := range titles {
					cmd.Printf("  %d. %s\n", i+1, title)
				}
			}
			return nil
		},
	})

	command.AddCommand(&cobra.Command{
		Use:   "add <category> <title>",
		Short: "Append a title to a queue",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := flags.open()
			if err != nil {
				return err
			}
			c, err := parseCategoryArg(args[0])
			if err != nil {
				return err
			}
			title := strings.Join(args[1:], " ")
			if err := store.Append(c, title); err != nil {
				return err
			}
			cmd.Printf("Added %q to the %s queue\n", title, c.Label())
			return nil
		},
	})

	command.AddCommand(&cobra.Command{
		Use:   "remove <category> <title>",
		Short: "Remove the first matching title from a queue",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := flags.open()
			if err != nil {
				return err
			}
			c, err := parseCategoryArg(args[0])
			if err != nil {
				return err
			}
			title := strings.Join(args[1:], " ")
			removed, err := store.RemoveFirstMatch(c, title)
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("%q is not in the %s queue", title, c.Label())
			}
			cmd.Printf("Removed %q from the %s queue\n", title, c.Label())
			return nil
		},
	})

	command.AddCommand(&cobra.Command{
		Use:   "edit <category> <old title> <new title>",
		Short: "Rename a queued title in place",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := flags.open()
			if err != nil {
				return err
			}
			c, err := parseCategoryArg(args[0])
			if err != nil {
				return err
			}
			if err := store.Edit(c, args[1], args[2]); err != nil {
				return err
			}
			cmd.Printf("Renamed %q to %q\n", args[1], args[2])
			return nil
		},
	})

	command.AddCommand(&cobra.Command{
		Use:   "peek <category>",
		Short: "Show the next title of a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := flags.open()
			if err != nil {
				return err
			}
			c, err := parseCategoryArg(args[0])
			if err != nil {
				return err
			}
			title, ok, err := store.Peek(c)
			if err != nil {
				return err
			}
			if !ok {
				cmd.Printf("The %s queue is empty\n", c.Label())
				return nil
			}
			cmd.Println(title)
			return nil
		},
	})

	command.AddCommand(&cobra.Command{
		Use:   "find <category> <term>",
		Short: "Fuzzy search a queue",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := flags.open()
			if err != nil {
				return err
			}
			c, err := parseCategoryArg(args[0])
			if err != nil {
				return err
			}
			matches, err := store.Find(c, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			for _, m := range matches {
				cmd.Println(m)
			}
			return nil
		},
	})

	return command
}

func RunRequestCommand() *cobra.Command {
	flags := &queueFlags{}
	var category string

	command := &cobra.Command{
		Use:   "request <title>",
		Short: "Classify a title and add it to the matching queue",
		Long: `Classify a title as a movie, TV show or album and append it to that queue.

The category is guessed from the release name and, when tmdbApiKey is set,
from TMDb. When neither can decide and stdin is a terminal you are asked.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := flags.open()
			if err != nil {
				return err
			}
			title := strings.TrimSpace(strings.Join(args, " "))

			var c models.Category
			if category != "" {
				if c, err = parseCategoryArg(category); err != nil {
					return err
				}
			} else {
				c, err = classify(cmd, newClassifier(cfg.Config), title)
				if err != nil {
					return err
				}
			}

			if err := store.Append(c, title); err != nil {
				var dup *queue.DuplicateError
				if errors.As(err, &dup) {
					cmd.Printf("%q is already queued as %q\n", title, dup.Existing)
					return nil
				}
				return err
			}

			cmd.Printf("Added %q to the %s queue\n", title, c.Label())
			return nil
		},
	}
	flags.register(command)
	command.Flags().StringVar(&category, "category", "", "skip classification and use this category")

	return command
}

func classify(cmd *cobra.Command, cl classifier.Classifier, title string) (models.Category, error) {
	c, err := cl.Classify(cmd.Context(), title)
	if err != nil {
		cmd.PrintErrf("Classification failed: %v\n", err)
	}
	if c.Valid() {
		return c, nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return models.CategoryUnknown, fmt.Errorf("could not classify %q; pass --category", title)
	}
	return promptCategory(cmd.OutOrStdout(), os.Stdin, title)
}

func promptCategory(out io.Writer, in io.Reader, title string) (models.Category, error) {
	reader := bufio.NewReader(in)
	for range 3 {
		fmt.Fprintf(out, "Category for %q [movie/tv/music]: ", title)
		line, err := reader.ReadString('\n')
		if strings.TrimSpace(line) != "" {
			if c, perr := models.ParseCategory(line); perr == nil {
				return c, nil
			}
			fmt.Fprintln(out, "Please answer movie, tv or music.")
		}
		if err != nil {
			return models.CategoryUnknown, fmt.Errorf("failed to read category: %w", err)
		}
	}
	return models.CategoryUnknown, errors.New("no category given")
}
