package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"forum-client/internal/forum"
)

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd, registerCmd, verifyCmd, meCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <email> <password>",
	Short: "Authenticate and store the session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		res, err := s.svc.Login(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		fmt.Printf("Logged in as %s (#%d)\n", res.User.Username, res.User.ID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Discard the stored session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		if err := s.svc.Logout(); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register <username> <email> <password>",
	Short: "Create an account",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		res, err := s.svc.Register(cmd.Context(), forum.RegisterRequest{
			Username: args[0],
			Email:    args[1],
			Password: args[2],
		})
		if err != nil {
			return fmt.Errorf("register: %w", err)
		}
		fmt.Println(res.Message)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <email> <code>",
	Short: "Verify an account with the emailed code",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		res, err := s.svc.VerifyEmail(cmd.Context(), forum.VerifyEmailRequest{
			Email: args[0],
			Code:  args[1],
		})
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		if res.Verified {
			fmt.Println("Email verified")
		} else {
			fmt.Printf("Not verified (%d attempts left)\n", res.AttemptsLeft)
		}
		return nil
	},
}

var meCmd = &cobra.Command{
	Use:   "me",
	Short: "Show the logged-in profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()

		me, err := s.svc.Me(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%s <%s> role=%s verified=%t\n", me.Username, me.Email, me.Role, me.IsVerified)
		return nil
	},
}
