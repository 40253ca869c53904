package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"boardline/internal/app"
	"boardline/internal/domain"
	"boardline/internal/engine"
	"boardline/internal/server"
	"boardline/internal/tool"
)

var rootCmd = &cobra.Command{
	Use:   "bl",
	Short: "Boardline CLI",
	Long: `Boardline tracks tickets moving through a fixed set of Kanban columns
(backlog -> ready -> in-progress -> review -> done) for one workspace.
State is plain YAML under <workspace>/board: inspectable, diffable,
editable by hand. Columns can carry WIP limits; moves into a full column
are refused. A transition journal records every change (bl log tail).`,
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
	viper.SetEnvPrefix("BOARDLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "local-user", "actor recorded in the journal")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(viewCmd())
	rootCmd.AddCommand(createCmd())
	rootCmd.AddCommand(updateCmd())
	rootCmd.AddCommand(moveCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(nextWorkCmd())
	rootCmd.AddCommand(nextRefineCmd())
	rootCmd.AddCommand(staleCmd())
	rootCmd.AddCommand(blockedCmd())
	rootCmd.AddCommand(childrenCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var projectID, projectName string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the workspace board (idempotent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.InitBoard(ctx, projectID, projectName, viper.GetString("actor"))
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&projectName, "name", "", "project display name")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the board summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Summary(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Project: %s (%s)\n", s.ProjectID, s.ProjectName)
				fmt.Printf("Tickets: %d total, %d open, %d done, %d stale\n", s.Total, s.Open, s.Completed, s.Stale)
				if s.OldestBacklogAge != "" {
					fmt.Printf("Oldest backlog item: %s\n", s.OldestBacklogAge)
				}
				if s.OldestInProgressAge != "" {
					fmt.Printf("Oldest in-progress item: %s\n", s.OldestInProgressAge)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Column", "Count", "WIP Limit"})
				for _, col := range s.Columns {
					limit := "-"
					if col.WIPLimit != nil {
						limit = fmt.Sprint(*col.WIPLimit)
					}
					tw.AppendRow(table.Row{col.Name, col.Count, limit})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func listCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var (
					tickets []domain.Ticket
					err     error
				)
				if status != "" {
					tickets, err = e.TicketsByStatus(ctx, status)
				} else {
					tickets, err = e.ListTickets(ctx)
				}
				if err != nil {
					return err
				}
				return printTickets(tickets)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func viewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view <id>",
		Short: "View a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTicket(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func createCmd() *cobra.Command {
	var opts engine.TicketCreateOptions
	var blockedBy []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a ticket in the backlog",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Actor = viper.GetString("actor")
			opts.BlockedBy = blockedBy
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTicket(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Type, "type", "", "type (feature, bugfix, chore, experiment)")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority (critical, high, medium, low)")
	cmd.Flags().StringVar(&opts.Intent, "intent", "", "what this ticket should accomplish")
	cmd.Flags().StringVar(&opts.AcceptanceSignal, "acceptance", "", "how to tell the work is done")
	cmd.Flags().StringVar(&opts.Parent, "parent", "", "parent ticket id")
	cmd.Flags().StringArrayVar(&blockedBy, "blocked-by", []string{}, "ticket id this one waits on (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func updateCmd() *cobra.Command {
	var title, ticketType, priority, intent, acceptance, parent string
	var blockedBy []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update ticket fields (status changes go through move)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := engine.TicketPatch{Actor: viper.GetString("actor")}
			if cmd.Flags().Changed("title") {
				patch.Title = &title
			}
			if cmd.Flags().Changed("type") {
				patch.Type = &ticketType
			}
			if cmd.Flags().Changed("priority") {
				patch.Priority = &priority
			}
			if cmd.Flags().Changed("intent") {
				patch.Intent = &intent
			}
			if cmd.Flags().Changed("acceptance") {
				patch.AcceptanceSignal = &acceptance
			}
			if cmd.Flags().Changed("parent") {
				patch.Parent = &parent
			}
			if cmd.Flags().Changed("blocked-by") {
				patch.BlockedBy = &blockedBy
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTicket(ctx, args[0], patch)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&ticketType, "type", "", "type")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (empty clears)")
	cmd.Flags().StringVar(&intent, "intent", "", "intent")
	cmd.Flags().StringVar(&acceptance, "acceptance", "", "acceptance signal")
	cmd.Flags().StringVar(&parent, "parent", "", "parent ticket id (empty clears)")
	cmd.Flags().StringArrayVar(&blockedBy, "blocked-by", []string{}, "blocking ticket ids (replaces the list)")
	return cmd
}

func moveCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "move <id> <status>",
		Short: "Move a ticket to another column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.MoveTicket(ctx, args[0], args[1], note, viper.GetString("actor"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "transition note, recorded as a comment")
	return cmd
}

func deleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				deleted, err := e.DeleteTicket(ctx, args[0], viper.GetString("actor"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]bool{"deleted": deleted})
				}
				if deleted {
					fmt.Println("deleted", args[0])
				} else {
					fmt.Println("nothing to delete:", args[0])
				}
				return nil
			})
		},
	}
	return cmd
}

func commentCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "comment <id>",
		Short: "Append a comment to a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.AddComment(ctx, args[0], viper.GetString("actor"), text)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "comment text")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func nextWorkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "next-work",
		Short: "Show the next ticket to pull into in-progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.NextWorkItem(ctx)
				if err != nil {
					return err
				}
				if t == nil {
					if viper.GetBool("json") {
						return printJSON(nil)
					}
					fmt.Println("nothing to pull")
					return nil
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func nextRefineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "next-refine",
		Short: "Show the next backlog ticket to refine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.NextRefinementItem(ctx)
				if err != nil {
					return err
				}
				if t == nil {
					if viper.GetBool("json") {
						return printJSON(nil)
					}
					fmt.Println("nothing to refine")
					return nil
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func staleCmd() *cobra.Command {
	var hours int
	cmd := &cobra.Command{
		Use:   "stale",
		Short: "List in-progress tickets older than the staleness threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tickets, err := e.StaleTickets(ctx, hours)
				if err != nil {
					return err
				}
				return printTickets(tickets)
			})
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 0, "staleness threshold (0 uses the board setting)")
	return cmd
}

func blockedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blocked",
		Short: "List tickets blocked by unfinished tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tickets, err := e.BlockedTickets(ctx)
				if err != nil {
					return err
				}
				return printTickets(tickets)
			})
		},
	}
	return cmd
}

func childrenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "children <id>",
		Short: "List child tickets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tickets, err := e.Children(ctx, args[0])
				if err != nil {
					return err
				}
				return printTickets(tickets)
			})
		},
	}
	return cmd
}

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent <action> [key=value...]",
		Short: "Invoke a board action the way an agent tool does",
		Long: `Dispatches one of the agent tool actions (` + strings.Join(tool.Actions, ", ") + `)
and prints the formatted summary, or the full result with --json.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := tool.Request{
				Action: args[0],
				Args:   map[string]string{},
				Actor:  viper.GetString("actor"),
			}
			for _, pair := range args[1:] {
				key, value, found := strings.Cut(pair, "=")
				if !found || key == "" {
					return fmt.Errorf("argument %q is not key=value", pair)
				}
				req.Args[key] = value
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := tool.Invoke(ctx, e, req)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Println(res.Summary)
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Transition journal",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, ticketID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.Events.Tail(ctx, n, evtType, ticketID)
				if err != nil {
					return err
				}
				return printJSONOrTable(entries)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&ticketID, "ticket", "", "ticket id filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath, root string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if root == "" {
				root = viper.GetString("workspace")
			}
			resolved, err := app.ResolveWorkspace(root)
			if err != nil {
				return err
			}
			handler, err := server.New(server.Config{Root: resolved, BasePath: basePath})
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
			fmt.Printf("Serving Boardline API on http://%s%s (workspaces under %s)\n", addr, basePath, resolved)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().StringVar(&root, "root", "", "directory workspace keys resolve under (defaults to --workspace)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, closeFn, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, e)
}

func printTickets(tickets []domain.Ticket) error {
	if viper.GetBool("json") {
		return printJSON(tickets)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Type", "Priority", "Status", "Updated"})
	for _, t := range tickets {
		tw.AppendRow(table.Row{t.ID, t.Title, t.Type, t.Priority, t.Status, t.UpdatedAt})
	}
	tw.Render()
	return nil
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
