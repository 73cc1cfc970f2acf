package app

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit %d", e.code)
}

var Version = "dev"

func Execute(args []string, out io.Writer, errOut io.Writer) int {
	app := App{Out: out, Err: errOut}
	flags := GlobalFlags{}
	var showVersion bool

	root := &cobra.Command{
		Use:           "freightquote",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().BoolVarP(&showVersion, "version", "V", false, "version")
	root.PersistentFlags().BoolVarP(&flags.JSON, "json", "j", false, "json output")
	root.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "quiet output")
	root.PersistentFlags().StringVarP(&flags.Browser, "browser", "b", "", "browser type")
	root.PersistentFlags().StringVarP(&flags.Channel, "channel", "c", "", "browser channel")
	root.PersistentFlags().BoolVarP(&flags.Headless, "headless", "H", false, "run headless")
	root.PersistentFlags().BoolVarP(&flags.Headed, "headed", "E", false, "run headed")
	root.PersistentFlags().StringVarP(&flags.CookieFile, "cookie-file", "C", "", "cookie store path")
	root.PersistentFlags().StringVarP(&flags.RunDir, "run-dir", "D", "", "run artifact directory")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if showVersion {
			fmt.Fprintln(out, Version)
			return exitError{code: exitSuccess}
		}
		if flags.Headless && flags.Headed {
			fmt.Fprintln(errOut, "cannot set both --headless and --headed")
			return exitError{code: exitUsage}
		}
		return nil
	}

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Resolve a shipping cost for a request file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			requestPath, _ := cmd.Flags().GetString("request")
			live, _ := cmd.Flags().GetBool("live")
			if requestPath == "" {
				fmt.Fprintln(errOut, "--request is required")
				return exitError{code: exitUsage}
			}
			code := app.runQuote(flags, requestPath, live)
			return exitOrNil(code)
		},
	}
	quoteCmd.Flags().StringP("request", "r", "", "quote request JSON file")
	quoteCmd.Flags().BoolP("live", "l", false, "fetch a live marketplace quote")
	root.AddCommand(quoteCmd)

	cookiesCmd := &cobra.Command{
		Use:   "cookies",
		Short: "Inspect session cookie stores",
	}
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a cookie-extension export",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("file")
			code := app.runCookiesValidate(flags, path)
			return exitOrNil(code)
		},
	}
	validateCmd.Flags().StringP("file", "f", "", "cookie store path")
	cookiesCmd.AddCommand(validateCmd)
	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "List the cookies in an export",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("file")
			code := app.runCookiesInfo(flags, path)
			return exitOrNil(code)
		},
	}
	infoCmd.Flags().StringP("file", "f", "", "cookie store path")
	cookiesCmd.AddCommand(infoCmd)
	root.AddCommand(cookiesCmd)

	root.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Install Playwright driver and browsers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			code := app.runInstall(flags)
			return exitOrNil(code)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "Check install and environment health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, _, err := app.prepare(flags)
			if err != nil {
				fmt.Fprintln(errOut, err)
				return exitError{code: exitFailure}
			}
			code := app.runDoctor(cfg, flags)
			return exitOrNil(code)
		},
	})

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Manage recorded quote runs",
	}
	runsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recorded runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, store, _, err := app.prepare(flags)
			if err != nil {
				fmt.Fprintln(errOut, err)
				return exitError{code: exitFailure}
			}
			code := app.runRunsList(store, flags)
			return exitOrNil(code)
		},
	})
	runsCmd.AddCommand(&cobra.Command{
		Use:   "show ID",
		Short: "Show one recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, _, err := app.prepare(flags)
			if err != nil {
				fmt.Fprintln(errOut, err)
				return exitError{code: exitFailure}
			}
			code := app.runRunsShow(store, flags, args[0])
			return exitOrNil(code)
		},
	})
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove expired runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			_, store, _, err := app.prepare(flags)
			if err != nil {
				fmt.Fprintln(errOut, err)
				return exitError{code: exitFailure}
			}
			code := app.runRunsPrune(store, flags, dryRun)
			return exitOrNil(code)
		},
	}
	pruneCmd.Flags().BoolP("dry-run", "n", false, "preview")
	runsCmd.AddCommand(pruneCmd)
	root.AddCommand(runsCmd)

	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			return exit.code
		}
		fmt.Fprintln(errOut, err)
		return exitUsage
	}
	return exitSuccess
}

func exitOrNil(code int) error {
	if code == exitSuccess {
		return nil
	}
	return exitError{code: code}
}
