package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"clearline/internal/app"
	"clearline/internal/audit"
	"clearline/internal/db"
	"clearline/internal/domain"
	"clearline/internal/server"
	"clearline/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Clearline CLI",
	Long: `Clearline tracks customs clearance shipments through a step-by-step workflow.
Each shipment instantiates the step catalog; steps belong to departments, carry
target dates derived from the ETA, and gate on their dependencies. Every
mutation is written to the audit ledger, and risk tiers escalate as a shipment
ages past its ETA.`,
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
	viper.SetEnvPrefix("CLEARLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "acting user id")
	rootCmd.PersistentFlags().String("user-name", "", "acting user display name")
	rootCmd.PersistentFlags().String("department", string(domain.DeptBusinessUnit), "acting user department")
	rootCmd.PersistentFlags().String("role", string(domain.RoleAPR), "acting user role")
	rootCmd.PersistentFlags().Int("level", int(domain.LevelEdit), "permission level (1-3)")
	rootCmd.PersistentFlags().StringSlice("grant", nil, "extra permission tokens")
	for _, name := range []string{"workspace", "json", "user-id", "user-name", "department", "role", "level", "grant"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(shipmentCmd())
	rootCmd.AddCommand(stepCmd())
	rootCmd.AddCommand(docCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(tickCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func cliUser() domain.User {
	return domain.User{
		ID:          viper.GetString("user-id"),
		Name:        viper.GetString("user-name"),
		Department:  domain.Department(viper.GetString("department")),
		Role:        domain.Role(viper.GetString("role")),
		Level:       domain.PermissionLevel(viper.GetInt("level")),
		Permissions: viper.GetStringSlice("grant"),
	}
}

func shipmentCmd() *cobra.Command {
	s := &cobra.Command{Use: "shipment", Short: "Manage shipments"}
	s.AddCommand(shipmentCreateCmd())
	s.AddCommand(shipmentListCmd())
	s.AddCommand(shipmentShowCmd())
	s.AddCommand(shipmentUpdateCmd())
	s.AddCommand(shipmentDeleteCmd())
	return s
}

func shipmentCreateCmd() *cobra.Command {
	var opts workflow.CreateShipmentOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a shipment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.CreateShipment(ctx, cliUser(), opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ShipmentNumber, "number", "", "shipment number")
	cmd.Flags().StringVar(&opts.Principal, "principal", "", "principal")
	cmd.Flags().StringVar(&opts.Brand, "brand", "", "brand")
	cmd.Flags().StringVar(&opts.LCNumber, "lc", "", "letter of credit number")
	cmd.Flags().Float64Var(&opts.InvoiceAmountOMR, "invoice-omr", 0, "invoice amount in OMR")
	cmd.Flags().StringVar(&opts.ETA, "eta", "", "estimated arrival (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("number")
	_ = cmd.MarkFlagRequired("eta")
	return cmd
}

func shipmentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List shipments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListShipments(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Number", "ETA", "Days Post ETA", "Risk", "Status", "Current Step"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.ShipmentNumber, s.ETA, s.DaysPostEta, s.RiskLevel, s.Status, s.CurrentStepNumber})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func shipmentShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a shipment with derived fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.GetShipment(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func shipmentUpdateCmd() *cobra.Command {
	var eta, principal, brand, lc string
	var cancel bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a shipment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var opts workflow.UpdateShipmentOptions
				if cmd.Flags().Changed("eta") {
					opts.ETA = &eta
				}
				if cmd.Flags().Changed("principal") {
					opts.Principal = &principal
				}
				if cmd.Flags().Changed("brand") {
					opts.Brand = &brand
				}
				if cmd.Flags().Changed("lc") {
					opts.LCNumber = &lc
				}
				opts.Cancel = cancel
				s, err := a.Engine.UpdateShipment(ctx, cliUser(), args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&eta, "eta", "", "new ETA (YYYY-MM-DD); shifts every target date")
	cmd.Flags().StringVar(&principal, "principal", "", "principal")
	cmd.Flags().StringVar(&brand, "brand", "", "brand")
	cmd.Flags().StringVar(&lc, "lc", "", "letter of credit number")
	cmd.Flags().BoolVar(&cancel, "cancel", false, "cancel the shipment")
	return cmd
}

func shipmentDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a shipment (full access only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.DeleteShipment(ctx, cliUser(), args[0])
			})
		},
	}
}

func stepCmd() *cobra.Command {
	s := &cobra.Command{Use: "step", Short: "Work on workflow steps"}
	s.AddCommand(stepListCmd())
	s.AddCommand(stepCompleteCmd())
	s.AddCommand(stepStartCmd())
	s.AddCommand(stepBlockCmd())
	return s
}

func stepListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <shipment-id>",
		Short: "List steps with derived statuses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				steps, err := a.Engine.GetWorkflowSteps(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(steps)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Step", "Name", "Department", "Target", "Actual", "Status"})
				for _, st := range steps {
					actual := ""
					if st.ActualDate != nil {
						actual = *st.ActualDate
					}
					tw.AppendRow(table.Row{st.StepNumber, st.Name, st.Department, st.TargetDate, actual, st.DerivedStatus})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func stepCompleteCmd() *cobra.Command {
	var opts workflow.CompleteStepOptions
	var dataJSON string
	cmd := &cobra.Command{
		Use:   "complete <shipment-id> <step-number>",
		Short: "Complete a workflow step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dataJSON != "" {
				if err := json.Unmarshal([]byte(dataJSON), &opts.Data); err != nil {
					return fmt.Errorf("invalid --data: %w", err)
				}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.CompleteStep(ctx, cliUser(), args[0], args[1], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ActualDate, "actual-date", "", "completion date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "completion notes")
	cmd.Flags().StringVar(&dataJSON, "data", "", "step field data as JSON")
	return cmd
}

func stepStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <shipment-id> <step-number>",
		Short: "Start a workflow step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				st, err := a.Engine.StartStep(ctx, cliUser(), args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
}

func stepBlockCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "block <shipment-id> <step-number>",
		Short: "Mark a workflow step blocked",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				st, err := a.Engine.BlockStep(ctx, cliUser(), args[0], args[1], reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the step is blocked")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func docCmd() *cobra.Command {
	d := &cobra.Command{Use: "doc", Short: "Manage document references"}
	d.AddCommand(docUploadCmd())
	d.AddCommand(docListCmd())
	d.AddCommand(docDeleteCmd())
	return d
}

func docUploadCmd() *cobra.Command {
	var stepNumber string
	cmd := &cobra.Command{
		Use:   "upload <shipment-id> <filename>",
		Short: "Attach a document reference",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				doc, err := a.Engine.UploadDocument(ctx, cliUser(), args[0], stepNumber, args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(doc)
			})
		},
	}
	cmd.Flags().StringVar(&stepNumber, "step", "", "step number the document belongs to")
	return cmd
}

func docListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <shipment-id>",
		Short: "List documents of a shipment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListDocuments(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func docDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Delete a document reference (full access only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.DeleteDocument(ctx, cliUser(), args[0])
			})
		},
	}
}

func auditCmd() *cobra.Command {
	a := &cobra.Command{Use: "audit", Short: "Query the audit ledger"}
	a.AddCommand(auditTailCmd())
	a.AddCommand(auditTrailCmd())
	a.AddCommand(auditExportCmd())
	return a
}

func auditTailCmd() *cobra.Command {
	var f audit.Filters
	var action string
	var level int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				f.Action = audit.Action(action)
				f.UserLevel = domain.PermissionLevel(level)
				entries := a.Engine.GetAuditLogs(cliUser(), f)
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Timestamp", "User", "Action", "Resource", "Resource ID", "Review"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.ID, e.Timestamp, e.UserID, e.Action, e.Resource, e.ResourceID, e.RequiresReview})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.UserID, "user", "", "filter by acting user")
	cmd.Flags().StringVar(&action, "action", "", "filter by action")
	cmd.Flags().StringVar(&f.Resource, "resource", "", "filter by resource type")
	cmd.Flags().StringVar(&f.ResourceID, "resource-id", "", "filter by resource id")
	cmd.Flags().StringVar(&f.DateStart, "from", "", "inclusive start timestamp (RFC3339)")
	cmd.Flags().StringVar(&f.DateEnd, "to", "", "inclusive end timestamp (RFC3339)")
	cmd.Flags().IntVar(&level, "level", 0, "filter by permission level")
	return cmd
}

func auditTrailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trail <resource> <resource-id>",
		Short: "Full change history of a resource, newest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printJSONOrTable(a.Engine.GetResourceAuditTrail(cliUser(), args[0], args[1]))
			})
		},
	}
}

func auditExportCmd() *cobra.Command {
	var delimiter string
	var out string
	var f audit.Filters
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export audit entries as delimited text",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d := ','
				if delimiter != "" {
					d = rune(delimiter[0])
				}
				text, err := a.Engine.ExportAuditLogs(cliUser(), f, d)
				if err != nil {
					return err
				}
				if out == "" {
					fmt.Print(text)
					return nil
				}
				return os.WriteFile(out, []byte(text), 0o644)
			})
		},
	}
	cmd.Flags().StringVar(&delimiter, "delimiter", ",", "field delimiter")
	cmd.Flags().StringVar(&out, "out", "", "output file (stdout when empty)")
	cmd.Flags().StringVar(&f.UserID, "user", "", "filter by acting user")
	cmd.Flags().StringVar(&f.DateStart, "from", "", "inclusive start timestamp (RFC3339)")
	cmd.Flags().StringVar(&f.DateEnd, "to", "", "inclusive end timestamp (RFC3339)")
	return cmd
}

func tickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Recompute risk for every active shipment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.Tick(ctx)
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a JWT for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("CLEARLINE_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("CLEARLINE_JWT_SECRET is required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				token, err := server.SignToken(cliUser(), secret, a.Config.Auth.Issuer)
				if err != nil {
					return err
				}
				fmt.Println(token)
				return nil
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
			logger := log.New(os.Stderr, "clearline ", log.LstdFlags)
			a, err := app.Open(cmd.Context(), workspace, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			secret := os.Getenv("CLEARLINE_JWT_SECRET")
			if secret == "" {
				secret = a.Config.Auth.JWTSecret
			}
			if secret == "" {
				return fmt.Errorf("CLEARLINE_JWT_SECRET is required for bearer auth")
			}
			if addr == "" {
				addr = a.Config.Server.Addr
			}
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret, Issuer: a.Config.Auth.Issuer},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			if interval, err := time.ParseDuration(a.Config.Risk.TickInterval); err == nil && interval > 0 {
				go func() {
					t := time.NewTicker(interval)
					defer t.Stop()
					for {
						select {
						case <-cmd.Context().Done():
							return
						case <-t.C:
							if err := a.Engine.Tick(cmd.Context()); err != nil {
								logger.Printf("warning: risk tick: %v", err)
							}
						}
					}
				}()
			}
			fmt.Printf("Serving Clearline API on http://%s%s\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (config default when empty)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	workspace := viper.GetString("workspace")
	logger := log.New(os.Stderr, "clearline ", log.LstdFlags)
	a, err := app.Open(ctx, workspace, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
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
