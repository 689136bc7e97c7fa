package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"omnichat/internal/app"
	"omnichat/internal/config"
	"omnichat/internal/models"
	"omnichat/internal/observability"
	"omnichat/internal/platform"
	"omnichat/internal/platform/memory"
	"omnichat/internal/tui"
)

var (
	offlineFlag  bool
	usernameFlag string
	passwordFlag string
	styleFlag    string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat in the terminal",
	Long: `Start an interactive chat session in the terminal.

Credentials come from --username/--password or OMNICHAT_USERNAME and
OMNICHAT_PASSWORD; the account is created on first sign in. With --offline
nothing leaves the machine and replies echo the input.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(offlineFlag)
		if err != nil {
			return err
		}
		return runChat(cmd.Context(), cfg)
	},
}

func init() {
	chatCmd.Flags().BoolVar(&offlineFlag, "offline", false, "Use in-memory services and an echo model")
	chatCmd.Flags().StringVarP(&usernameFlag, "username", "u", "", "Account name")
	chatCmd.Flags().StringVarP(&passwordFlag, "password", "p", "", "Account password")
	chatCmd.Flags().StringVar(&styleFlag, "style", "", "Markdown style (dark, light, notty); detected when empty")
}

func runChat(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// the terminal belongs to the UI, so logs always go to a file
	logFile := cfg.BasicConfig.LogFile
	if logFile == "" {
		logFile = filepath.Join(os.TempDir(), "omnichat", "chat.log")
	}
	logCloser, err := observability.InitLogger(observability.LogOptions{File: logFile, Level: cfg.BasicConfig.LogLevel})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logCloser.Close()

	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.BasicConfig.TelemetryDir)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer shutdownTelemetry()

	var svc platform.Services
	if offlineFlag {
		svc = offlineServices()
	} else {
		b, err := openBackend(ctx, cfg)
		if err != nil {
			return err
		}
		defer b.Close()

		identity := b.auth.CredentialIdentity(credential(usernameFlag, "OMNICHAT_USERNAME"), credential(passwordFlag, "OMNICHAT_PASSWORD"))
		if err := identity.SignIn(ctx); err != nil {
			return fmt.Errorf("sign in: %w", err)
		}
		user, err := identity.User(ctx)
		if err != nil {
			return err
		}
		svc = b.services(identity, user.UID)
	}

	ctrl, err := app.New(ctx, svc, app.Options{})
	if err != nil {
		return err
	}
	ctrl.Init(ctx)
	return tui.Run(ctx, ctrl, tui.Options{Style: styleFlag})
}

func offlineServices() platform.Services {
	return platform.Services{
		Identity:  memory.NewIdentity(models.User{Username: "local", UID: "local"}, true),
		KV:        memory.NewKV(),
		Files:     memory.NewFiles(),
		Inference: memory.NewInference(),
	}
}

func credential(flag, env string) string {
	if flag != "" {
		return flag
	}
	return strings.TrimSpace(os.Getenv(env))
}
