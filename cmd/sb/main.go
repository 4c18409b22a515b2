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

	"stageboard/internal/app"
	"stageboard/internal/config"
	"stageboard/internal/db"
	"stageboard/internal/domain"
	"stageboard/internal/engine"
	"stageboard/internal/engine/scope"
	"stageboard/internal/migrate"
	"stageboard/internal/repo"
	"stageboard/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sb",
	Short: "Stageboard CLI",
	Long: `Stageboard is a stage board engine for back-office order tracking.
Concepts:
- Workspace: the .stageboard directory holding the database; the board config lives in the DB and is imported explicitly.
- Pipeline: a named board (one per city or business line) with its ordered stage columns.
- Stage: a column like "En attente" or "Confirmé"; free-form names fold to canonical statuses so "Confirmé-AG" still counts as confirmed.
- Item: an order card with client, product, price, and assigned employee.
- Moves: stage transitions checked against the actor's role allow-list; admins are unrestricted.
- Board: the bucketed view, with the Reporter column ordered by callback urgency.
- Metrics: today's confirmed/delivered count and tiered commission.
- Event log: diary of changes, view with 'sb log tail'.`,
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
	viper.SetEnvPrefix("SB")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("roles", "admin", "comma-separated roles for this invocation")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("roles", rootCmd.PersistentFlags().Lookup("roles"))
}

func registerCommands() {
	rootCmd.AddCommand(pipelineCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(metricsCmd())
	rootCmd.AddCommand(productCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func actorScope() scope.Scope {
	var roles []string
	for _, r := range strings.Split(viper.GetString("roles"), ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return scope.Scope{ActorID: viper.GetString("actor-id"), Roles: roles}
}

// --- pipeline ---

func pipelineCmd() *cobra.Command {
	p := &cobra.Command{Use: "pipeline", Short: "Manage pipelines and stages"}
	p.AddCommand(pipelineListCmd())
	p.AddCommand(pipelineCreateCmd())
	p.AddCommand(pipelineShowCmd())
	p.AddCommand(pipelineUpdateCmd())
	p.AddCommand(pipelineDeleteCmd())
	p.AddCommand(stageCmd())
	return p
}

func pipelineListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListPipelines(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable("ID", "NAME", "DEFAULT", "STAGES")
				for _, p := range items {
					t.AppendRow(table.Row{p.ID, p.Name, p.IsDefault, len(p.Stages)})
				}
				t.Render()
				return nil
			})
		},
	}
}

func pipelineCreateCmd() *cobra.Command {
	var name, color string
	var isDefault bool
	var stages []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.PipelineCreateOptions{
					Name:      name,
					Color:     color,
					IsDefault: isDefault,
					ActorID:   viper.GetString("actor-id"),
				}
				for _, s := range stages {
					// format: id[:status]
					parts := strings.SplitN(s, ":", 2)
					seed := config.StageSeed{ID: parts[0]}
					if len(parts) == 2 {
						seed.Status = parts[1]
					}
					opts.Stages = append(opts.Stages, seed)
				}
				p, err := e.CreatePipeline(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "pipeline name")
	cmd.Flags().StringVar(&color, "color", "", "display color")
	cmd.Flags().BoolVar(&isDefault, "default", false, "mark as default pipeline")
	cmd.Flags().StringArrayVar(&stages, "stage", []string{}, "stage id[:status] (repeatable, in column order)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func pipelineShowCmd() *cobra.Command {
	var id int64
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a pipeline with its stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := resolvePipeline(ctx, e, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("Pipeline: %s (id=%d, default=%v)\n", p.Name, p.ID, p.IsDefault)
				t := newTable("STAGE", "STATUS", "ACTIVE", "LOCKED")
				for _, s := range p.Stages {
					t.AppendRow(table.Row{s.ID, s.Status, s.Active, s.Locked})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "pipeline id (defaults to the default pipeline)")
	return cmd
}

func pipelineUpdateCmd() *cobra.Command {
	var id int64
	var name, color string
	var isDefault bool
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.PipelineUpdateOptions{ID: id, ActorID: viper.GetString("actor-id")}
				if cmd.Flags().Changed("name") {
					opts.Name = &name
				}
				if cmd.Flags().Changed("color") {
					opts.Color = &color
				}
				if cmd.Flags().Changed("default") {
					opts.IsDefault = &isDefault
				}
				p, err := e.UpdatePipeline(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "pipeline id")
	cmd.Flags().StringVar(&name, "name", "", "pipeline name")
	cmd.Flags().StringVar(&color, "color", "", "display color")
	cmd.Flags().BoolVar(&isDefault, "default", false, "mark as default pipeline")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func pipelineDeleteCmd() *cobra.Command {
	var id int64
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeletePipeline(ctx, id, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "pipeline id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func stageCmd() *cobra.Command {
	s := &cobra.Command{Use: "stage", Short: "Manage stages"}
	s.AddCommand(stageAddCmd())
	s.AddCommand(stageUpdateCmd())
	s.AddCommand(stageRenameCmd())
	s.AddCommand(stageDeleteCmd())
	s.AddCommand(stageReorderCmd())
	return s
}

func stageAddCmd() *cobra.Command {
	var pipelineID int64
	var id, color, status string
	var locked bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a stage to a pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.StageOptions{
					PipelineID: pipelineID,
					StageID:    id,
					ActorID:    viper.GetString("actor-id"),
				}
				if cmd.Flags().Changed("color") {
					opts.Color = &color
				}
				if cmd.Flags().Changed("status") {
					opts.Status = &status
				}
				if cmd.Flags().Changed("locked") {
					opts.Locked = &locked
				}
				s, err := e.AddStage(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().Int64Var(&pipelineID, "pipeline", 0, "pipeline id")
	cmd.Flags().StringVar(&id, "id", "", "stage id (column name)")
	cmd.Flags().StringVar(&color, "color", "", "display color")
	cmd.Flags().StringVar(&status, "status", "", "canonical status")
	cmd.Flags().BoolVar(&locked, "locked", false, "protect from rename/delete")
	_ = cmd.MarkFlagRequired("pipeline")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func stageUpdateCmd() *cobra.Command {
	var pipelineID int64
	var id, color, status string
	var active, locked bool
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.StageOptions{
					PipelineID: pipelineID,
					StageID:    id,
					ActorID:    viper.GetString("actor-id"),
				}
				if cmd.Flags().Changed("color") {
					opts.Color = &color
				}
				if cmd.Flags().Changed("status") {
					opts.Status = &status
				}
				if cmd.Flags().Changed("active") {
					opts.Active = &active
				}
				if cmd.Flags().Changed("locked") {
					opts.Locked = &locked
				}
				s, err := e.UpdateStage(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().Int64Var(&pipelineID, "pipeline", 0, "pipeline id")
	cmd.Flags().StringVar(&id, "id", "", "stage id")
	cmd.Flags().StringVar(&color, "color", "", "display color")
	cmd.Flags().StringVar(&status, "status", "", "canonical status")
	cmd.Flags().BoolVar(&active, "active", true, "stage renders on the board")
	cmd.Flags().BoolVar(&locked, "locked", false, "protect from rename/delete")
	_ = cmd.MarkFlagRequired("pipeline")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func stageRenameCmd() *cobra.Command {
	var pipelineID int64
	var from, to string
	cmd := &cobra.Command{
		Use:   "rename",
		Short: "Rename a stage and rewrite its items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RenameStage(ctx, pipelineID, from, to, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().Int64Var(&pipelineID, "pipeline", 0, "pipeline id")
	cmd.Flags().StringVar(&from, "from", "", "current stage id")
	cmd.Flags().StringVar(&to, "to", "", "new stage id")
	_ = cmd.MarkFlagRequired("pipeline")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func stageDeleteCmd() *cobra.Command {
	var pipelineID int64
	var id string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteStage(ctx, pipelineID, id, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().Int64Var(&pipelineID, "pipeline", 0, "pipeline id")
	cmd.Flags().StringVar(&id, "id", "", "stage id")
	_ = cmd.MarkFlagRequired("pipeline")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func stageReorderCmd() *cobra.Command {
	var pipelineID int64
	var order []string
	cmd := &cobra.Command{
		Use:   "reorder",
		Short: "Reorder stage columns",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.ReorderStages(ctx, pipelineID, order, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().Int64Var(&pipelineID, "pipeline", 0, "pipeline id")
	cmd.Flags().StringArrayVar(&order, "stage", []string{}, "stage id (repeatable, in new order)")
	_ = cmd.MarkFlagRequired("pipeline")
	return cmd
}

// --- item ---

func itemCmd() *cobra.Command {
	it := &cobra.Command{Use: "item", Short: "Manage items"}
	it.AddCommand(itemCreateCmd())
	it.AddCommand(itemListCmd())
	it.AddCommand(itemShowCmd())
	it.AddCommand(itemUpdateCmd())
	it.AddCommand(itemMoveCmd())
	it.AddCommand(itemDeleteCmd())
	return it
}

func itemCreateCmd() *cobra.Command {
	var opts engine.ItemCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an item",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.PipelineID == 0 {
					p, err := defaultPipeline(ctx, e)
					if err != nil {
						return err
					}
					opts.PipelineID = p.ID
				}
				it, err := e.CreateItem(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "item id (optional, UUID if omitted)")
	cmd.Flags().StringVar(&opts.ClientName, "client", "", "client name")
	cmd.Flags().StringVar(&opts.Tel, "tel", "", "client phone")
	cmd.Flags().StringVar(&opts.ProductID, "product", "", "product id")
	cmd.Flags().StringVar(&opts.Prix, "prix", "", "sale price")
	cmd.Flags().Int64Var(&opts.PipelineID, "pipeline", 0, "pipeline id (defaults to the default pipeline)")
	cmd.Flags().StringVar(&opts.Stage, "stage", "", "initial stage (defaults to first active)")
	cmd.Flags().StringVar(&opts.Employee, "employee", "", "assigned employee (defaults to actor)")
	cmd.Flags().StringVar(&opts.Commentaire, "comment", "", "free-form comment")
	cmd.Flags().IntVar(&opts.NbPiece, "nb-piece", 1, "piece count")
	cmd.Flags().StringVar(&opts.Ville, "ville", "", "city")
	cmd.Flags().StringVar(&opts.Quartier, "quartier", "", "district")
	cmd.Flags().StringVar(&opts.DateReport, "date-report", "", "callback date (RFC3339)")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}

func itemListCmd() *cobra.Command {
	var pipelineID int64
	var stage string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List visible items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := actorScope()
				items, err := e.Repo.ListItems(ctx, repo.ItemFilter{
					PipelineID: pipelineID,
					Employee:   actor.EmployeeFilter(e.Config),
					Stage:      stage,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable("ID", "CLIENT", "STAGE", "PRIX", "EMPLOYEE", "REPORT")
				for _, it := range items {
					report := ""
					if it.DateReport != nil {
						report = *it.DateReport
					}
					t.AppendRow(table.Row{short(it.ID), it.ClientName, it.Stage, it.Prix, it.Employee, report})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&pipelineID, "pipeline", 0, "pipeline id (0 = all)")
	cmd.Flags().StringVar(&stage, "stage", "", "stage filter (stored literal)")
	return cmd
}

func itemShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.Repo.GetItem(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	return cmd
}

func itemUpdateCmd() *cobra.Command {
	var client, tel, product, prix, employee, comment, ville, quartier, dateReport string
	var nbPiece int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update item fields (stage moves go through 'item move')",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.ItemUpdateOptions{ID: args[0], ActorID: viper.GetString("actor-id")}
				if cmd.Flags().Changed("client") {
					opts.ClientName = &client
				}
				if cmd.Flags().Changed("tel") {
					opts.Tel = &tel
				}
				if cmd.Flags().Changed("product") {
					opts.ProductID = &product
				}
				if cmd.Flags().Changed("prix") {
					opts.Prix = &prix
				}
				if cmd.Flags().Changed("employee") {
					opts.Employee = &employee
				}
				if cmd.Flags().Changed("comment") {
					opts.Commentaire = &comment
				}
				if cmd.Flags().Changed("nb-piece") {
					opts.NbPiece = &nbPiece
				}
				if cmd.Flags().Changed("ville") {
					opts.Ville = &ville
				}
				if cmd.Flags().Changed("quartier") {
					opts.Quartier = &quartier
				}
				if cmd.Flags().Changed("date-report") {
					opts.DateReport = &dateReport
				}
				it, err := e.UpdateItem(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&client, "client", "", "client name")
	cmd.Flags().StringVar(&tel, "tel", "", "client phone")
	cmd.Flags().StringVar(&product, "product", "", "product id")
	cmd.Flags().StringVar(&prix, "prix", "", "sale price")
	cmd.Flags().StringVar(&employee, "employee", "", "assigned employee")
	cmd.Flags().StringVar(&comment, "comment", "", "free-form comment")
	cmd.Flags().IntVar(&nbPiece, "nb-piece", 1, "piece count")
	cmd.Flags().StringVar(&ville, "ville", "", "city")
	cmd.Flags().StringVar(&quartier, "quartier", "", "district")
	cmd.Flags().StringVar(&dateReport, "date-report", "", "callback date (RFC3339, empty clears)")
	return cmd
}

func itemMoveCmd() *cobra.Command {
	var stage, dateReport string
	cmd := &cobra.Command{
		Use:   "move <id>",
		Short: "Move an item to a stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if stage == "" {
				return fmt.Errorf("--stage required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.MoveItem(ctx, engine.MoveOptions{
					ItemID:      args[0],
					TargetStage: stage,
					DateReport:  dateReport,
					Actor:       actorScope(),
				})
				var denied scope.StageNotAllowedError
				if errors.As(err, &denied) {
					fmt.Printf("refused: %v\n", err)
					return nil
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "target stage")
	cmd.Flags().StringVar(&dateReport, "date-report", "", "callback date (RFC3339), set when parking in Reporter")
	_ = cmd.MarkFlagRequired("stage")
	return cmd
}

func itemDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteItem(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

// --- board & metrics ---

func boardCmd() *cobra.Command {
	var pipelineID int64
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Render the stage board",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := resolvePipeline(ctx, e, pipelineID)
				if err != nil {
					return err
				}
				board, err := e.Board(ctx, p.ID, actorScope())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(board)
				}
				renderBoard(board)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&pipelineID, "pipeline", 0, "pipeline id (defaults to the default pipeline)")
	return cmd
}

func renderBoard(b engine.Board) {
	fmt.Printf("Board: %s", b.Pipeline.Name)
	if b.Unmatched > 0 {
		fmt.Printf(" (%d unmatched)", b.Unmatched)
	}
	fmt.Println()
	header := table.Row{}
	rows := 0
	for _, bucket := range b.Buckets {
		header = append(header, fmt.Sprintf("%s (%d)", bucket.Stage.ID, len(bucket.Items)))
		if len(bucket.Items) > rows {
			rows = len(bucket.Items)
		}
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(header)
	for i := 0; i < rows; i++ {
		row := table.Row{}
		for _, bucket := range b.Buckets {
			if i < len(bucket.Items) {
				it := bucket.Items[i]
				cell := it.ClientName
				if it.DateReport != nil {
					cell += " @" + *it.DateReport
				}
				row = append(row, cell)
			} else {
				row = append(row, "")
			}
		}
		t.AppendRow(row)
	}
	t.Render()
}

func metricsCmd() *cobra.Command {
	var pipelineID int64
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Daily count and commission for the acting employee",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.Metrics(ctx, pipelineID, actorScope())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(m)
				}
				fmt.Printf("Day:        %s\n", m.Day)
				fmt.Printf("Visible:    %d\n", m.Visible)
				fmt.Printf("Today:      %d confirmed/delivered\n", m.TodayCount)
				fmt.Printf("Commission: %.2f\n", m.Commission)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&pipelineID, "pipeline", 0, "pipeline id (0 = all)")
	return cmd
}

// --- product ---

func productCmd() *cobra.Command {
	p := &cobra.Command{Use: "product", Short: "Manage the product catalog"}
	p.AddCommand(productCreateCmd())
	p.AddCommand(productListCmd())
	p.AddCommand(productShowCmd())
	p.AddCommand(productUpdateCmd())
	p.AddCommand(productDeleteCmd())
	return p
}

func productCreateCmd() *cobra.Command {
	var opts engine.ProductOptions
	var stock, alerte int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a product",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			if cmd.Flags().Changed("stock") {
				opts.Stock = &stock
			}
			if cmd.Flags().Changed("alerte-stock") {
				opts.AlerteStock = &alerte
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProduct(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "product id (optional)")
	cmd.Flags().StringVar(&opts.Nom, "nom", "", "product name")
	cmd.Flags().StringVar(&opts.PrixVente, "prix-vente", "", "reference sale price")
	cmd.Flags().StringVar(&opts.Image, "image", "", "image URL")
	cmd.Flags().IntVar(&stock, "stock", 0, "stock count")
	cmd.Flags().IntVar(&alerte, "alerte-stock", 0, "low-stock threshold")
	_ = cmd.MarkFlagRequired("nom")
	return cmd
}

func productListCmd() *cobra.Command {
	var lowStock bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List products",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var (
					items []domain.Product
					err   error
				)
				if lowStock {
					items, err = e.Repo.ListLowStock(ctx)
				} else {
					items, err = e.Repo.ListProducts(ctx)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable("ID", "NOM", "PRIX VENTE", "STOCK", "ALERTE")
				for _, p := range items {
					t.AppendRow(table.Row{short(p.ID), p.Nom, p.PrixVente, p.Stock, p.AlerteStock})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&lowStock, "low-stock", false, "only products at or below their alert threshold")
	return cmd
}

func productShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProduct(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func productUpdateCmd() *cobra.Command {
	var opts engine.ProductOptions
	var stock, alerte int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			if cmd.Flags().Changed("stock") {
				opts.Stock = &stock
			}
			if cmd.Flags().Changed("alerte-stock") {
				opts.AlerteStock = &alerte
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.UpdateProduct(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Nom, "nom", "", "product name")
	cmd.Flags().StringVar(&opts.PrixVente, "prix-vente", "", "reference sale price")
	cmd.Flags().StringVar(&opts.Image, "image", "", "image URL")
	cmd.Flags().IntVar(&stock, "stock", 0, "stock count")
	cmd.Flags().IntVar(&alerte, "alerte-stock", 0, "low-stock threshold")
	return cmd
}

func productDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteProduct(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
}

// --- api keys ---

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyDeleteCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	var roles []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				raw, key, err := newAPIKey(ctx, e.Repo, actorID, name, roles)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "key": raw})
				}
				fmt.Printf("API key created for %s (id=%s)\n", key.ActorID, key.ID)
				fmt.Printf("Key (store it now, it is not shown again): %s\n", raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	cmd.Flags().StringArrayVar(&roles, "role", []string{}, "role granted to the key (repeatable)")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				t := newTable("ID", "ACTOR", "NAME", "ROLES", "CREATED")
				for _, k := range keys {
					t.AppendRow(table.Row{short(k.ID), k.ActorID, k.Name, strings.Join(k.Roles, ","), k.CreatedAt})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor id")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

// --- config ---

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Manage board config"}
	c.AddCommand(configShowCmd())
	c.AddCommand(configImportCmd())
	c.AddCommand(configInitCmd())
	return c
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the config stored in the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if viper.GetBool("json") {
					return printJSON(e.Config)
				}
				data, err := e.Config.ToYAML()
				if err != nil {
					return err
				}
				fmt.Print(string(data))
				return nil
			})
		},
	}
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.UpsertConfig(ctx, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter stageboard.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			data, err := config.Default().ToYAML()
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
}

// --- log ---

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

// --- serve ---

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
			e := engine.New(conn, nil)
			cfg, err := app.ResolveConfig(cmd.Context(), workspace, viper.GetString("actor-id"), e)
			if err != nil {
				return err
			}
			e.Config = cfg
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("SB_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("SB_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
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
			fmt.Printf("Serving Stageboard API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

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
	e := engine.New(conn, nil)
	cfg, err := app.ResolveConfig(ctx, workspace, viper.GetString("actor-id"), e)
	if err != nil {
		return err
	}
	e.Config = cfg
	return fn(ctx, e)
}

func resolvePipeline(ctx context.Context, e engine.Engine, id int64) (domain.Pipeline, error) {
	if id != 0 {
		return e.Repo.GetPipeline(ctx, id)
	}
	return defaultPipeline(ctx, e)
}

func defaultPipeline(ctx context.Context, e engine.Engine) (domain.Pipeline, error) {
	pipelines, err := e.Repo.ListPipelines(ctx)
	if err != nil {
		return domain.Pipeline{}, err
	}
	for _, p := range pipelines {
		if p.IsDefault {
			return p, nil
		}
	}
	if len(pipelines) > 0 {
		return pipelines[0], nil
	}
	return domain.Pipeline{}, fmt.Errorf("no pipelines; run 'sb config import' or 'sb pipeline create'")
}

func newAPIKey(ctx context.Context, r repo.Repo, actorID, name string, roles []string) (string, domain.APIKey, error) {
	raw, key, err := server.GenerateAPIKey(actorID, name, roles)
	if err != nil {
		return "", key, err
	}
	if err := r.InsertAPIKey(ctx, nil, key); err != nil {
		return "", key, err
	}
	return raw, key, nil
}

func newTable(headers ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row(headers))
	return t
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
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
