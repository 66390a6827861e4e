package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/laurentenhoor/devclaw/internal/registry"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage registered projects",
	}
	cmd.AddCommand(newProjectAddCmd(), newProjectListCmd())
	return cmd
}

func newProjectAddCmd() *cobra.Command {
	var p registry.Project
	var channelID, channel string

	cmd := &cobra.Command{
		Use:   "add <slug>",
		Short: "Register a project in the workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p.Slug = args[0]
			if p.Name == "" {
				p.Name = p.Slug
			}
			if channelID != "" {
				p.Channels = []registry.ChannelBinding{{ChannelID: channelID, Channel: channel}}
			}
			if err := registry.NewStore(workspaceFlag).EnsureProject(&p); err != nil {
				return err
			}
			fmt.Printf("Registered project %q (%s)\n", p.Slug, p.Provider)
			return nil
		},
	}

	cmd.Flags().StringVar(&p.Name, "name", "", "display name (defaults to slug)")
	cmd.Flags().StringVar(&p.Repo, "repo", "", "local checkout path")
	cmd.Flags().StringVar(&p.Remote, "remote", "", "forge path, e.g. owner/name")
	cmd.Flags().StringVar(&p.Provider, "provider", "github", "tracker provider (github|gitlab)")
	cmd.Flags().StringVar(&p.BaseBranch, "base-branch", "", "base branch for PRs")
	cmd.Flags().StringVar(&channelID, "channel-id", "", "primary notification channel id")
	cmd.Flags().StringVar(&channel, "channel", "telegram", "notification channel kind")
	_ = cmd.MarkFlagRequired("remote")
	return cmd
}

func newProjectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := registry.NewStore(workspaceFlag).Read()
			if err != nil {
				return err
			}
			if len(file.Projects) == 0 {
				fmt.Println("No projects registered. Run: devclaw project add")
				return nil
			}
			slugs := make([]string, 0, len(file.Projects))
			for slug := range file.Projects {
				slugs = append(slugs, slug)
			}
			sort.Strings(slugs)
			for _, slug := range slugs {
				p := file.Projects[slug]
				fmt.Printf("%-16s %-8s %-24s %s\n", p.Slug, p.Provider, p.Remote, p.Repo)
			}
			return nil
		},
	}
}
