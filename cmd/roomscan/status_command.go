package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/foxxcyber/roomscan/internal/database"
	"github.com/foxxcyber/roomscan/internal/models"
	"github.com/foxxcyber/roomscan/internal/services"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show a scan session and its drafts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := uuid.Parse(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("invalid session id %q", args[0])
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			db, err := database.Connect(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			session, err := db.GetScanSession(cmd.Context(), sessionID)
			if err != nil {
				if errors.Is(err, database.ErrScanSessionNotFound) {
					return fmt.Errorf("scan session %s not found", sessionID)
				}
				return err
			}
			drafts, err := db.ListDraftItemsBySession(cmd.Context(), session.PropertyID, session.RoomID, session.ID, session.UserID)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), formatSession(session, drafts))
			return nil
		},
	}
}

func formatSession(session *models.ScanSession, drafts []models.DraftItem) string {
	errText := "-"
	if session.Error != nil {
		errText = *session.Error
	}
	model, tokens := "-", "-"
	if meta := session.ResultMetadata; meta != nil {
		model = meta.Model
		if meta.TokenUsage != nil {
			tokens = strconv.Itoa(meta.TokenUsage.TotalTokens)
		}
	}

	out := renderKeyValues([][2]string{
		{"Session", session.ID.String()},
		{"Status", string(session.Status)},
		{"Provider", session.ProviderName},
		{"Model", model},
		{"Tokens", tokens},
		{"Images archived", strconv.Itoa(len(session.ImageStorageRefs))},
		{"Created", humanize.Time(session.CreatedAt)},
		{"Updated", humanize.Time(session.UpdatedAt)},
		{"Error", errText},
	})
	if len(drafts) == 0 {
		return out
	}

	rows := make([][]string, 0, len(drafts))
	for _, d := range drafts {
		dup := "-"
		if d.DuplicateMatch != nil {
			dup = fmt.Sprintf("%s (%.2f, %s)", d.DuplicateMatch.ExistingItemID.String()[:8],
				d.DuplicateMatch.Score, services.GetMatchConfidenceLevel(d.DuplicateMatch.Score))
		}
		rows = append(rows, []string{d.Name, string(d.Status), strconv.FormatFloat(d.Confidence.Name, 'f', 2, 64), dup})
	}
	return out + "\n" + renderTable([]string{"Draft", "Status", "Confidence", "Possible duplicate"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft})
}
