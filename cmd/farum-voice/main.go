package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpadapter "github.com/PabloGalante/farum-voice/internal/adapters/http"
	"github.com/PabloGalante/farum-voice/internal/app/insight"
	"github.com/PabloGalante/farum-voice/internal/app/persona"
	"github.com/PabloGalante/farum-voice/internal/config"
	"github.com/PabloGalante/farum-voice/internal/domain"
	"github.com/PabloGalante/farum-voice/internal/observability"
)

var userFlag string

func main() {
	rootCmd := &cobra.Command{
		Use:           "farum-voice",
		Short:         "Voice journal: recordings in, insights and spoken feedback out",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&userFlag, "user", "", "user id (empty = guest)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(personasCmd())
	rootCmd.AddCommand(entitlementCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func identity() domain.Identity {
	if userFlag == "" {
		return domain.Guest()
	}
	return domain.User(domain.UserID(userFlag))
}

// withApp loads config, wires the services and runs fn.
func withApp(ctx context.Context, fn func(a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	observability.Configure(cfg.LogLevel)

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, func(a *app) error {
				var auth *httpadapter.Authenticator
				if a.cfg.JWTSecret != "" {
					auth = httpadapter.NewAuthenticator(a.cfg.JWTSecret)
				}

				handler := httpadapter.NewServer(httpadapter.Services{
					Pipeline:     a.pipeline,
					Conversation: a.conversation,
					Journal:      a.journal,
					Personas:     a.registry,
					Gate:         a.gate,
					Audio:        a.audio,
					NewWorkflow:  a.newWorkflow,
					Auth:         auth,
				})

				srv := &http.Server{
					Addr:              ":" + a.cfg.Port,
					Handler:           handler,
					ReadHeaderTimeout: 10 * time.Second,
				}

				errCh := make(chan error, 1)
				go func() {
					observability.Logger().Info("farum voice API listening", "port", a.cfg.Port, "auth", auth != nil)
					errCh <- srv.ListenAndServe()
				}()

				select {
				case err := <-errCh:
					if errors.Is(err, http.ErrServerClosed) {
						return nil
					}
					return err
				case <-ctx.Done():
					observability.Logger().Info("shutting down")
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				}
			})
		},
	}
}

func processCmd() *cobra.Command {
	var voice, personaID string

	cmd := &cobra.Command{
		Use:   "process [audio file]",
		Short: "Turn a recording into a journal entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if voice != "" && personaID != "" {
				return errors.New("use either --voice or --persona, not both")
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read recording: %w", err)
			}
			mimeType := mime.TypeByExtension(filepath.Ext(args[0]))
			if mimeType == "" {
				mimeType = "application/octet-stream"
			}

			sel := domain.BuiltIn(persona.DefaultVoice())
			switch {
			case voice != "":
				sel = domain.BuiltIn(domain.VoiceID(voice))
			case personaID != "":
				sel = domain.Custom(domain.PersonaID(personaID))
			}

			return withApp(cmd.Context(), func(a *app) error {
				id := identity()
				if err := a.gate.Check(cmd.Context(), id); err != nil {
					return err
				}

				entry, err := a.pipeline.Process(cmd.Context(), insight.ProcessInput{
					Identity:  id,
					Audio:     domain.Audio{Data: data, MimeType: mimeType},
					Selection: sel,
				})
				if err != nil {
					return err
				}
				return printJSON(entry)
			})
		},
	}

	cmd.Flags().StringVar(&voice, "voice", "", "built-in voice id")
	cmd.Flags().StringVar(&personaID, "persona", "", "custom persona id")
	return cmd
}

func personasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "personas",
		Short: "Inspect personas",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List built-in and custom personas",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				personas, err := a.registry.List(cmd.Context(), identity())
				if err != nil {
					return err
				}
				for _, p := range personas {
					kind := "built-in"
					if p.Custom {
						kind = "custom"
					}
					fmt.Printf("%-24s %-16s %-8s voice=%s\n", p.ID, p.Name, kind, p.VoiceID)
				}
				return nil
			})
		},
	})

	return cmd
}

func entitlementCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entitlement",
		Short: "Inspect or change usage limits",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show entry count, premium state and remaining entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				return printEntitlement(cmd.Context(), a)
			})
		},
	})

	var months int
	activate := &cobra.Command{
		Use:   "activate",
		Short: "Activate or extend premium",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				if _, err := a.gate.ActivatePremium(cmd.Context(), identity(), months); err != nil {
					return err
				}
				return printEntitlement(cmd.Context(), a)
			})
		},
	}
	activate.Flags().IntVar(&months, "months", 1, "duration in months")
	cmd.AddCommand(activate)

	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token [user id]",
		Short: "Sign a bearer token for the HTTP API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("FARUM_JWT_SECRET is not set")
			}

			token, err := httpadapter.NewAuthenticator(cfg.JWTSecret).Sign(domain.UserID(args[0]), ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func printEntitlement(ctx context.Context, a *app) error {
	id := identity()
	st, err := a.gate.State(ctx, id)
	if err != nil {
		return err
	}
	rem, err := a.gate.Remaining(ctx, id)
	if err != nil {
		return err
	}

	fmt.Printf("identity:  %s\n", id.Key())
	fmt.Printf("entries:   %d (free limit %d)\n", st.EntryCount, a.gate.Limit())
	if rem.Unbounded {
		fmt.Printf("premium:   until %s\n", st.PremiumExpiry.Format(time.RFC3339))
		fmt.Println("remaining: unbounded")
		return nil
	}
	fmt.Println("premium:   no")
	fmt.Printf("remaining: %d\n", rem.Count)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
