package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	threadsCmd.AddCommand(threadsListCmd, threadsSearchCmd, threadsShowCmd,
		threadsCreateCmd, threadsDeleteCmd)
	rootCmd.AddCommand(categoriesCmd, threadsCmd, postCmd, reportCmd)

	threadsSearchCmd.Flags().Int64Var(&searchCategoryID, "category", 0, "restrict to a category id")
	threadsSearchCmd.Flags().IntVar(&searchPage, "page", 1, "result page")
	threadsSearchCmd.Flags().IntVar(&searchLimit, "limit", 50, "results per page")
	threadsCreateCmd.Flags().StringVar(&createContent, "message", "", "opening message")
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List categories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		cats, err := s.svc.ListCategories(cmd.Context())
		if err != nil {
			return err
		}
		for _, cat := range cats {
			fmt.Printf("#%d %s", cat.ID, cat.Name)
			if cat.Description != "" {
				fmt.Printf("  (%s)", cat.Description)
			}
			fmt.Println()
		}
		return nil
	},
}

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "Browse and manage threads",
}

var threadsListCmd = &cobra.Command{
	Use:   "list <category-id>",
	Short: "List threads in a category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		categoryID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid category id %q", args[0])
		}
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		threads, err := s.svc.ListThreadsByCategory(cmd.Context(), categoryID)
		if err != nil {
			return err
		}
		for _, th := range threads {
			fmt.Printf("#%d %s (%d messages)\n", th.ID, th.Title, th.MessageCount)
		}
		return nil
	},
}

var (
	searchCategoryID int64
	searchPage       int
	searchLimit      int
)

var threadsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search threads by title",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		res, err := s.svc.SearchThreads(cmd.Context(), args[0], searchCategoryID, searchPage, searchLimit)
		if err != nil {
			return err
		}
		for _, th := range res.Items {
			fmt.Printf("#%d %s\n", th.ID, th.Title)
		}
		fmt.Printf("page %d of %d results", res.Page, res.Total)
		if res.HasMore {
			fmt.Print(" (more available)")
		}
		fmt.Println()
		return nil
	},
}

var threadsShowCmd = &cobra.Command{
	Use:   "show <thread-id>",
	Short: "Show one thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		threadID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid thread id %q", args[0])
		}
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		th, err := s.svc.ShowThread(cmd.Context(), threadID)
		if err != nil {
			return err
		}
		fmt.Printf("#%d %s\ncategory=%d messages=%d created=%s\n",
			th.ID, th.Title, th.CategoryID, th.MessageCount, th.CreatedAt)
		return nil
	},
}

var createContent string

var threadsCreateCmd = &cobra.Command{
	Use:   "create <category-id> <title>",
	Short: "Start a thread, optionally with an opening message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		categoryID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid category id %q", args[0])
		}
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		if createContent != "" {
			th, msg, err := s.svc.CreateThreadWithMessage(cmd.Context(), categoryID, args[1], createContent)
			if err != nil {
				return err
			}
			fmt.Printf("Created thread #%d with message #%d\n", th.ID, msg.ID)
			return nil
		}
		th, err := s.svc.CreateThread(cmd.Context(), categoryID, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Created thread #%d\n", th.ID)
		return nil
	},
}

var threadsDeleteCmd = &cobra.Command{
	Use:   "delete <thread-id>",
	Short: "Delete a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		threadID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid thread id %q", args[0])
		}
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		if err := s.svc.DeleteThread(cmd.Context(), threadID); err != nil {
			return err
		}
		fmt.Println("Deleted")
		return nil
	},
}

var postCmd = &cobra.Command{
	Use:   "post <thread-id> <content>",
	Short: "Post a message to a thread",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		threadID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid thread id %q", args[0])
		}
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		msg, err := s.svc.CreateMessage(cmd.Context(), threadID, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Posted message #%d\n", msg.ID)
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <message-id> [reason]",
	Short: "Report a message",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		messageID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid message id %q", args[0])
		}
		reason := ""
		if len(args) == 2 {
			reason = args[1]
		}
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		rep, err := s.svc.CreateReport(cmd.Context(), messageID, reason)
		if err != nil {
			return err
		}
		fmt.Printf("Filed report #%d\n", rep.ID)
		return nil
	},
}
