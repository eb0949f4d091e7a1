// Package main provides the modelauth command line tool. It drives the
// OAuth2 + PKCE credential client for an external model provider: logging
// in through the system browser, inspecting authentication status, sending
// authenticated model calls, and logging out.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/quanta-haba/modelauth/internal/config"
	"github.com/quanta-haba/modelauth/internal/logging"
	sdkauth "github.com/quanta-haba/modelauth/sdk/auth"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	var (
		configPath string
		login      bool
		status     bool
		logout     bool
		callPrompt string
		noBrowser  bool
		timeout    time.Duration
		debug      bool
	)

	flag.StringVar(&configPath, "config", "config.yaml", "path to the YAML configuration file")
	flag.BoolVar(&login, "login", false, "run the browser authorization flow")
	flag.BoolVar(&status, "status", false, "print authentication status")
	flag.BoolVar(&logout, "logout", false, "clear in-memory and stored tokens")
	flag.StringVar(&callPrompt, "call", "", "send a prompt to the model API")
	flag.BoolVar(&noBrowser, "no-browser", false, "print the authorization URL instead of opening a browser")
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait for the authorization callback")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.Parse()

	// .env is optional; it typically carries MODELAUTH_CLIENT_SECRET so the
	// secret stays out of the config file.
	if err := godotenv.Load(); err == nil {
		log.Debug("Loaded environment from .env")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "modelauth: %v\n", err)
		os.Exit(1)
	}
	if secret := os.Getenv("MODELAUTH_CLIENT_SECRET"); secret != "" {
		cfg.Provider.ClientSecret = secret
	}

	logging.Setup(debug || cfg.Debug, cfg.LogFile)
	log.Debugf("modelauth version %s, commit %s, built %s", Version, Commit, BuildDate)

	client, err := sdkauth.NewClient(cfg, &sdkauth.Options{NoBrowser: noBrowser})
	if err != nil {
		fmt.Fprintf(os.Stderr, "modelauth: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	switch {
	case login:
		err = runLogin(ctx, client, noBrowser, timeout)
	case logout:
		client.Logout(ctx)
		fmt.Println("Logged out.")
	case callPrompt != "":
		err = runCall(ctx, client, callPrompt)
	case status:
		printStatus(client)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, sdkauth.FriendlyMessage(err))
		log.Debugf("command failed: %v", err)
		os.Exit(1)
	}
}

// runLogin drives one authorization attempt end to end.
func runLogin(ctx context.Context, client *sdkauth.Client, noBrowser bool, timeout time.Duration) error {
	handle, err := client.Initiate(ctx)
	if err != nil {
		return err
	}

	if noBrowser {
		fmt.Printf("Visit the following URL to authenticate:\n%s\n", handle.AuthorizationURL)
	} else {
		fmt.Println("Opening browser for authentication...")
	}
	fmt.Println("Waiting for the authorization callback...")

	if err = client.Finish(ctx, handle, timeout); err != nil {
		return err
	}
	fmt.Println("Authentication successful.")
	printStatus(client)
	return nil
}

// runCall sends one prompt to the model API and prints the response text.
func runCall(ctx context.Context, client *sdkauth.Client, prompt string) error {
	resp, err := client.Call(ctx, prompt, nil)
	if err != nil {
		return err
	}
	if text := resp.Text(); text != "" {
		fmt.Println(text)
		return nil
	}
	fmt.Println(string(resp.Body))
	return nil
}

// printStatus prints the read-only authentication projection.
func printStatus(client *sdkauth.Client) {
	st := client.Status()
	if !st.Authenticated {
		fmt.Printf("Not authenticated (state: %s).\n", st.State)
		return
	}
	if st.ExpiresAt.IsZero() {
		fmt.Println("Authenticated; token does not expire.")
		return
	}
	fmt.Printf("Authenticated; token expires at %s (in %dm%ds).\n",
		st.ExpiresAt.Format(time.RFC3339), st.ExpiresInSeconds/60, st.ExpiresInSeconds%60)
}
