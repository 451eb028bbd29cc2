package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/garyjia/budget-approval/internal/application/workflow"
	"github.com/garyjia/budget-approval/internal/domain/entity"
	domainwf "github.com/garyjia/budget-approval/internal/domain/workflow"
)

// requestView is a request as printed by the CLI
type requestView struct {
	*entity.BudgetRequest
	StageLabel string `json:"stage_label"`
}

func submitCmd(a *app) *cobra.Command {
	var (
		in     workflow.SubmitRequest
		cat    string
		amount string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new budget request at the admin stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", amount, err)
			}
			in.Amount = amt
			in.Project.Category = entity.ProjectCategory(cat)

			req, err := a.container.WorkflowEngine().Submit(cmd.Context(), in)
			if err != nil {
				return err
			}
			return a.printRequest(req)
		},
	}

	cmd.Flags().StringVar(&in.Project.ID, "project-id", "", "Project ID (required)")
	cmd.Flags().StringVar(&in.Project.Number, "project-number", "", "Project number")
	cmd.Flags().StringVar(&in.Project.Title, "project-title", "", "Project title")
	cmd.Flags().StringVar(&cat, "category", string(entity.CategoryRecurring), "Project category (recurring, non-recurring)")
	cmd.Flags().StringVar(&in.Requestor.Name, "name", "", "Requestor name (required)")
	cmd.Flags().StringVar(&in.Requestor.Email, "email", "", "Requestor email (required)")
	cmd.Flags().StringVar(&amount, "amount", "", "Requested amount (required)")
	cmd.Flags().StringVar(&in.Purpose, "purpose", "", "Purpose (required)")
	cmd.Flags().StringVar(&in.Justification, "justification", "", "Justification")
	cmd.Flags().StringVar(&in.InvoiceNumber, "invoice", "", "Invoice number")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func forwardCmd(a *app) *cobra.Command {
	var actor, remarks string

	cmd := &cobra.Command{
		Use:   "forward <id>",
		Short: "Forward a request from admin to reviewer 1",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := a.container.WorkflowEngine().Forward(cmd.Context(), args[0], actor, remarks)
			if err != nil {
				return err
			}
			return a.printRequest(req)
		},
	}

	addActorFlags(cmd, &actor, &remarks)
	return cmd
}

func approveCmd(a *app) *cobra.Command {
	var stage, actor, remarks string

	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a request at a reviewer or final authority stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine := a.container.WorkflowEngine()
			ctx := cmd.Context()

			var (
				req *entity.BudgetRequest
				err error
			)
			switch domainwf.Stage(stage) {
			case domainwf.StageReviewer1:
				req, err = engine.ApproveStage1(ctx, args[0], actor, remarks)
			case domainwf.StageReviewer2:
				req, err = engine.ApproveStage2(ctx, args[0], actor, remarks)
			case domainwf.StageFinalAuthority:
				req, err = engine.ApproveFinal(ctx, args[0], actor, remarks)
			default:
				return fmt.Errorf("%w: approve --stage must be reviewer1, reviewer2 or finalAuthority", domainwf.ErrInvalidStage)
			}
			if err != nil {
				return err
			}
			return a.printRequest(req)
		},
	}

	cmd.Flags().StringVar(&stage, "stage", "", "Stage being approved (reviewer1, reviewer2, finalAuthority)")
	_ = cmd.MarkFlagRequired("stage")
	addActorFlags(cmd, &actor, &remarks)
	return cmd
}

func rejectCmd(a *app) *cobra.Command {
	var stage, actor, remarks string

	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a request at its current stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expected := domainwf.Stage(stage)
			if !expected.IsValid() {
				return fmt.Errorf("%w: %q", domainwf.ErrInvalidStage, stage)
			}

			req, err := a.container.WorkflowEngine().Reject(cmd.Context(), args[0], expected, actor, remarks)
			if err != nil {
				return err
			}
			return a.printRequest(req)
		},
	}

	cmd.Flags().StringVar(&stage, "stage", "", "Stage the request is expected to be at")
	_ = cmd.MarkFlagRequired("stage")
	addActorFlags(cmd, &actor, &remarks)
	return cmd
}

func getCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a request with its approval log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := a.container.Services().Query.GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if req == nil {
				return fmt.Errorf("%w: %s", domainwf.ErrNotFound, args[0])
			}
			return a.printRequest(req)
		},
	}
}

func listCmd(a *app) *cobra.Command {
	var (
		stage     string
		requestor string
		completed bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests, optionally pending at a stage, by requestor or completed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := a.container.Services().Query
			ctx := cmd.Context()

			var (
				requests []*entity.BudgetRequest
				err      error
			)
			switch {
			case stage != "":
				requests, err = query.ListByStage(ctx, domainwf.Stage(stage))
			case requestor != "":
				requests, err = query.ListByRequestor(ctx, requestor)
			case completed:
				requests, err = query.ListCompleted(ctx)
			default:
				requests, err = query.ListAll(ctx)
			}
			if err != nil {
				return err
			}
			return a.printList(requests)
		},
	}

	cmd.Flags().StringVar(&stage, "stage", "", "Only requests pending at this stage")
	cmd.Flags().StringVar(&requestor, "requestor", "", "Only requests submitted by this email")
	cmd.Flags().BoolVar(&completed, "completed", false, "Only approved and rejected requests")
	cmd.MarkFlagsMutuallyExclusive("stage", "requestor", "completed")
	return cmd
}

func summaryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show pending counts by stage and amount totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := a.container.Services().Query.Summary(cmd.Context())
			if err != nil {
				return err
			}
			if a.json {
				return a.printJSON(summary)
			}

			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "TOTAL\t%d\n", summary.Total)
			fmt.Fprintf(w, "PENDING\t%d\t%s\n", summary.Pending, summary.PendingAmount.StringFixed(2))
			for _, stage := range domainwf.PendingStages() {
				fmt.Fprintf(w, "  %s\t%d\n", stage.Label(), summary.PendingByStage[stage])
			}
			fmt.Fprintf(w, "APPROVED\t%d\t%s\n", summary.Approved, summary.ApprovedAmount.StringFixed(2))
			fmt.Fprintf(w, "REJECTED\t%d\t%s\n", summary.Rejected, summary.RejectedAmount.StringFixed(2))
			return w.Flush()
		},
	}
}

func exportCmd(a *app) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all requests and approval logs to an Excel workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			services := a.container.Services()
			requests, err := services.Query.ListAll(cmd.Context())
			if err != nil {
				return err
			}

			file, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", out, err)
			}
			if err := services.Exporter.Export(cmd.Context(), file, requests); err != nil {
				_ = file.Close()
				return err
			}
			if err := file.Close(); err != nil {
				return err
			}

			fmt.Fprintf(a.out, "exported %d requests to %s\n", len(requests), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "budget-requests.xlsx", "Output workbook path")
	return cmd
}

func addActorFlags(cmd *cobra.Command, actor, remarks *string) {
	cmd.Flags().StringVar(actor, "actor", "", "Name of the person acting (required)")
	cmd.Flags().StringVar(remarks, "remarks", "", "Remarks recorded on the approval log")
	_ = cmd.MarkFlagRequired("actor")
}

func (a *app) printRequest(req *entity.BudgetRequest) error {
	return a.printJSON(requestView{BudgetRequest: req, StageLabel: req.StageLabel()})
}

func (a *app) printList(requests []*entity.BudgetRequest) error {
	if a.json {
		views := make([]requestView, 0, len(requests))
		for _, req := range requests {
			views = append(views, requestView{BudgetRequest: req, StageLabel: req.StageLabel()})
		}
		return a.printJSON(views)
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROJECT\tREQUESTOR\tAMOUNT\tSTAGE")
	for _, req := range requests {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			req.ID, req.Project.Number, req.Requestor.Email, req.Amount.StringFixed(2), req.StageLabel())
	}
	return w.Flush()
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
