package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"trustline/internal/app"
	"trustline/internal/config"
	"trustline/internal/db"
	"trustline/internal/domain"
	"trustline/internal/engine"
	"trustline/internal/migrate"
	"trustline/internal/repo"
	"trustline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Trustline CLI",
	Long: `Trustline anchors decentralized identities, hash-committed credentials,
and an auditable task ledger in one workspace.
- Workspace: your .trustline directory holding the database; config lives in trustline.yml.
- DIDs: each principal registers one self-asserted identifier.
- Roles: assigned by managers; every assignment is kept in an append-only history.
- Credentials: issuers record commitment hashes, never the raw claims; verifiers
  recompute the hash from what they believe and compare.
- Tasks: created by managers, completed once by their assignee; every read
  verification also lands in the event log.
- Event log: diary of changes, view with 'tl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TRUSTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "principal acting on the ledger")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(didCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(credentialCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func didCmd() *cobra.Command {
	did := &cobra.Command{Use: "did", Short: "Manage decentralized identifiers"}
	did.AddCommand(didCreateCmd())
	did.AddCommand(didShowCmd())
	did.AddCommand(didUpdateCmd())
	return did
}

func didCreateCmd() *cobra.Command {
	var identifier string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register own DID",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.CreateDID(ctx, viper.GetString("actor-id"), identifier)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&identifier, "identifier", "", "DID identifier")
	_ = cmd.MarkFlagRequired("identifier")
	return cmd
}

func didShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show own DID",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.GetDID(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	return cmd
}

func didUpdateCmd() *cobra.Command {
	var identifier string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Replace own DID identifier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.UpdateDID(ctx, viper.GetString("actor-id"), identifier)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&identifier, "identifier", "", "new DID identifier")
	_ = cmd.MarkFlagRequired("identifier")
	return cmd
}

func roleCmd() *cobra.Command {
	role := &cobra.Command{Use: "role", Short: "Manage roles"}
	role.AddCommand(roleAssignCmd())
	role.AddCommand(roleShowCmd())
	return role
}

func roleAssignCmd() *cobra.Command {
	var subject, role string
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign a role to a principal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.AssignRole(ctx, viper.GetString("actor-id"), subject, role)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "subject principal")
	cmd.Flags().StringVar(&role, "role", "", "role name")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func roleShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show own role history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				history, err := e.GetRole(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(history)
			})
		},
	}
	return cmd
}

func credentialCmd() *cobra.Command {
	cred := &cobra.Command{Use: "credential", Short: "Issue and verify credentials"}
	cred.AddCommand(credentialIssueCmd())
	cred.AddCommand(credentialVerifyRoleCmd())
	cred.AddCommand(credentialVerifyAttributeCmd())
	cred.AddCommand(credentialPresentCmd())
	cred.AddCommand(credentialVerifyMetadataCmd())
	return cred
}

func credentialIssueCmd() *cobra.Command {
	var subject, role string
	var attribute int64
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cred, err := e.IssueCredential(ctx, viper.GetString("actor-id"), subject, role, attribute)
				if err != nil {
					return err
				}
				return printJSONOrTable(cred)
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "subject principal")
	cmd.Flags().StringVar(&role, "role", "", "role claim")
	cmd.Flags().Int64Var(&attribute, "attribute", 0, "numeric attribute claim")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func credentialVerifyRoleCmd() *cobra.Command {
	var subject, issuer, role string
	cmd := &cobra.Command{
		Use:   "verify-role",
		Short: "Verify a role commitment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				status, err := e.VerifyRole(ctx, subject, issuer, role)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]bool{"status": status})
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "subject principal")
	cmd.Flags().StringVar(&issuer, "issuer", "", "expected issuer")
	cmd.Flags().StringVar(&role, "role", "", "claimed role")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("issuer")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func credentialVerifyAttributeCmd() *cobra.Command {
	var subject, issuer string
	var attribute int64
	cmd := &cobra.Command{
		Use:   "verify-attribute",
		Short: "Verify an attribute threshold commitment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				status, err := e.VerifyAttributeThreshold(ctx, subject, issuer, attribute)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]bool{"status": status})
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "subject principal")
	cmd.Flags().StringVar(&issuer, "issuer", "", "expected issuer")
	cmd.Flags().Int64Var(&attribute, "attribute", 0, "claimed attribute (audit only)")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("issuer")
	return cmd
}

func credentialPresentCmd() *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "present",
		Short: "Hash metadata for presentation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				hash := e.PresentCredential(name, email)
				return printJSONOrTable(map[string]string{"hash": hash})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "declared name")
	cmd.Flags().StringVar(&email, "email", "", "declared email")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func credentialVerifyMetadataCmd() *cobra.Command {
	var hash string
	cmd := &cobra.Command{
		Use:   "verify-metadata",
		Short: "Verify a metadata commitment against the stored profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				status, err := e.VerifyMetadataCommitment(ctx, viper.GetString("actor-id"), hash)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]bool{"status": status})
			})
		},
	}
	cmd.Flags().StringVar(&hash, "hash", "", "presented metadata hash")
	_ = cmd.MarkFlagRequired("hash")
	return cmd
}

func profileCmd() *cobra.Command {
	profile := &cobra.Command{Use: "profile", Short: "Manage own profile"}
	profile.AddCommand(profileSetCmd())
	return profile
}

func profileSetCmd() *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Save own profile metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SaveProfile(ctx, viper.GetString("actor-id"), name, email)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name")
	cmd.Flags().StringVar(&email, "email", "", "email")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskMineCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskReassignCmd())
	task.AddCommand(taskCompleteCmd())
	task.AddCommand(taskVerifyCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var title, description, priority, dueDate, assignee string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				task, err := e.CreateTask(ctx, engine.TaskCreateOptions{
					Caller:      viper.GetString("actor-id"),
					Title:       title,
					Description: description,
					Priority:    priority,
					DueDate:     dueDate,
					Assignee:    assignee,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(task)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&description, "description", "", "task description")
	cmd.Flags().StringVar(&priority, "priority", "medium", "priority (low|medium|high)")
	cmd.Flags().StringVar(&dueDate, "due", "", "due date (RFC 3339, must be in the future)")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee principal")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("due")
	_ = cmd.MarkFlagRequired("assignee")
	return cmd
}

func renderTasks(tasks []domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(tasks)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Priority", "Assignee", "Due", "Completed"})
	for _, t := range tasks {
		completed := ""
		if t.Completed && t.CompletedAt != nil {
			completed = *t.CompletedAt
		}
		tw.AppendRow(table.Row{t.ID, t.Title, t.Priority, t.Assignee, t.DueDate, completed})
	}
	tw.Render()
	return nil
}

func taskListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all tasks (managers only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListTasks(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return renderTasks(tasks)
			})
		},
	}
	return cmd
}

func taskMineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mine",
		Short: "List own tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListUserTasks(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return renderTasks(tasks)
			})
		},
	}
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				task, err := e.GetTask(ctx, viper.GetString("actor-id"), id)
				if err != nil {
					return err
				}
				return printJSONOrTable(task)
			})
		},
	}
	return cmd
}

func taskReassignCmd() *cobra.Command {
	var assignee string
	cmd := &cobra.Command{
		Use:   "reassign <id>",
		Short: "Reassign a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				task, err := e.ReassignTask(ctx, viper.GetString("actor-id"), id, assignee)
				if err != nil {
					return err
				}
				return printJSONOrTable(task)
			})
		},
	}
	cmd.Flags().StringVar(&assignee, "assignee", "", "new assignee principal")
	_ = cmd.MarkFlagRequired("assignee")
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				task, err := e.CompleteTask(ctx, viper.GetString("actor-id"), id)
				if err != nil {
					return err
				}
				return printJSONOrTable(task)
			})
		},
	}
	return cmd
}

func taskVerifyCmd() *cobra.Command {
	verify := &cobra.Command{Use: "verify", Short: "Audited task checks"}

	var user string
	ownership := &cobra.Command{
		Use:   "ownership <id>",
		Short: "Check whether a user is the assignee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				status, err := e.VerifyTaskOwnership(ctx, viper.GetString("actor-id"), id, user)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]bool{"status": status})
			})
		},
	}
	ownership.Flags().StringVar(&user, "user", "", "candidate assignee")
	_ = ownership.MarkFlagRequired("user")

	status := &cobra.Command{
		Use:   "status <id>",
		Short: "Check whether a task has been completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				match, err := e.VerifyTaskStatus(ctx, viper.GetString("actor-id"), id)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]bool{"status": match})
			})
		},
	}

	dueDate := &cobra.Command{
		Use:   "due <id>",
		Short: "Check whether a task's due date has not passed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				match, err := e.VerifyTaskDueDate(ctx, viper.GetString("actor-id"), id)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]bool{"status": match})
			})
		},
	}

	verify.AddCommand(ownership)
	verify.AddCommand(status)
	verify.AddCommand(dueDate)
	return verify
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a trustline.yml into the workspace and its database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.UpsertServiceConfigTx(ctx, tx, cfg.Service.ID, cfg); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				fmt.Println("imported", path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file to import")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configInitCmd() *cobra.Command {
	var serviceID, manager string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default trustline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(serviceID, manager)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&serviceID, "service-id", "trustline", "service identifier")
	cmd.Flags().StringVar(&manager, "manager", "manager", "seed manager principal")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show active config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var kind, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, kind, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&kind, "kind", "", "event kind filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rawKey := uuid.NewString() + uuid.NewString()
				key := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   viper.GetString("actor-id"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(rawKey),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"id":       key.ID,
					"actor_id": key.ActorID,
					"key":      rawKey,
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List own API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveServiceAndConfig(cmd.Context(), workspace, "", r)
			if err != nil {
				return err
			}
			if err := app.EnsureSeeded(cmd.Context(), conn, cfg); err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("TRUSTLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("TRUSTLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Trustline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func parseTaskID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveServiceAndConfig(ctx, workspace, "", r)
	if err != nil {
		return err
	}
	if err := app.EnsureSeeded(ctx, conn, cfg); err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
