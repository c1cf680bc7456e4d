package main

import (
	"encoding/json"
	"fmt"
	"strings"

	auth "github.com/goliatone/go-campus-auth"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newReviewCmd(opts *rootOptions) *cobra.Command {
	var (
		adminID string
		role    string
		note    string
	)

	cmd := &cobra.Command{
		Use:   "review <request-id> approve|reject",
		Short: "Decide a pending approval request as an admin profile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			requestID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid request id %q: %w", args[0], err)
			}

			decision, ok := auth.ParseApprovalDecision(args[1])
			if !ok {
				return fmt.Errorf("decision must be approve or reject, got %q", args[1])
			}

			reviewerID, err := uuid.Parse(adminID)
			if err != nil {
				return fmt.Errorf("invalid --admin profile id %q: %w", adminID, err)
			}

			a, err := bootstrap(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			handler := auth.NewReviewApprovalHandler(a.repo,
				auth.WithReviewLogger(a.logger("review")),
				auth.WithReviewActivitySink(a.sink),
			)

			var result *auth.ApprovalResult
			err = handler.Execute(cmd.Context(), auth.ReviewApprovalMessage{
				RequestID:         requestID,
				Decision:          decision,
				RoleOverride:      auth.Role(strings.ToLower(strings.TrimSpace(role))),
				ReviewerProfileID: reviewerID,
				Note:              note,
				OnResponse: func(r *auth.ApprovalResult) {
					result = r
				},
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().StringVar(&adminID, "admin", "", "profile id of the reviewing admin")
	cmd.Flags().StringVar(&role, "role", "", "grant a different role than requested")
	cmd.Flags().StringVar(&note, "note", "", "review note stored on the request")
	_ = cmd.MarkFlagRequired("admin")

	return cmd
}
