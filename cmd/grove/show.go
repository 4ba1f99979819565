package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/grovekit/grove/pkg/types"
)

var showCmd = &cobra.Command{
	Use:   "show [page]",
	Short: "Show indexed pages",
	Long: `Without arguments, list every indexed page name. With a page name,
print the page's metadata and block outline.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		g, err := openGraph(cmd.Context(), viper.GetString("root"), logger)
		if err != nil {
			return err
		}
		defer func() { _ = g.Close() }()

		if len(args) == 0 {
			names, err := g.PageNames(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		}

		page, err := g.Page(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printPage(page)
		return nil
	},
}

func printPage(page *types.Page) {
	fmt.Printf("Page: %s\n", page.Name)
	if page.Title != "" {
		fmt.Printf("Title: %s\n", page.Title)
	}
	fmt.Printf("File: %s\n", page.FilePath)
	if page.Journal {
		fmt.Printf("Journal: %s\n", page.JournalDate)
	}
	if len(page.Tags) > 0 {
		fmt.Printf("Tags: %s\n", strings.Join(page.Tags, ", "))
	}
	if len(page.Backlinks) > 0 {
		fmt.Printf("Backlinks: %s\n", strings.Join(page.Backlinks, ", "))
	}
	fmt.Printf("Blocks: %d\n\n", len(page.Blocks))

	byID := make(map[string]*types.Block, len(page.Blocks))
	for _, b := range page.Blocks {
		byID[b.ID] = b
	}
	var print func(b *types.Block)
	print = func(b *types.Block) {
		indent := strings.Repeat("  ", b.Level)
		line := b.Content
		if b.TaskState != types.TaskNone {
			line = string(b.TaskState) + " " + line
		}
		fmt.Printf("%s- %s\n", indent, line)
		for _, childID := range b.Children {
			if child, ok := byID[childID]; ok {
				print(child)
			}
		}
	}
	for _, root := range page.Roots() {
		print(root)
	}
}
