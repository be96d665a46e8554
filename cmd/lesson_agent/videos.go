package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jonathan/lesson-video-pipeline/internal/db"
)

var videosCmd = &cobra.Command{
	Use:   "videos",
	Short: "List and export videos stored by the postgres saver",
}

var videosListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the videos saved for a run",
	RunE:  runVideosList,
}

var videosExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a stored video to a file",
	RunE:  runVideosExport,
}

var (
	videosRunID string
	videosID    int64
	videosOut   string
)

func init() {
	videosListCmd.Flags().StringVar(&videosRunID, "run-id", "", "Run identifier (required)")
	_ = videosListCmd.MarkFlagRequired("run-id")

	videosExportCmd.Flags().Int64Var(&videosID, "id", 0, "Video id (required)")
	videosExportCmd.Flags().StringVarP(&videosOut, "out", "o", "", "Output file (default: the stored filename)")
	_ = videosExportCmd.MarkFlagRequired("id")

	videosCmd.AddCommand(videosListCmd, videosExportCmd)
	rootCmd.AddCommand(videosCmd)
}

// videoStore is the read side of db.DB used by the videos commands.
type videoStore interface {
	GetVideo(ctx context.Context, id int64) (*db.Video, error)
	ListVideosByRun(ctx context.Context, runID string) ([]db.VideoSummary, error)
}

func connectVideos(cmd *cobra.Command) (*db.DB, error) {
	cfg, err := resolveConfig(cmd.Flags(), globals)
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable or --db-url flag is required")
	}
	database, err := db.Connect(cmd.Context(), cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return database, nil
}

func runVideosList(cmd *cobra.Command, _ []string) error {
	database, err := connectVideos(cmd)
	if err != nil {
		return err
	}
	defer database.Close()
	return listVideos(cmd.Context(), database, videosRunID, cmd.OutOrStdout())
}

func runVideosExport(cmd *cobra.Command, _ []string) error {
	database, err := connectVideos(cmd)
	if err != nil {
		return err
	}
	defer database.Close()
	path, err := exportVideo(cmd.Context(), database, videosID, videosOut)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func listVideos(ctx context.Context, store videoStore, runID string, out io.Writer) error {
	videos, err := store.ListVideosByRun(ctx, runID)
	if err != nil {
		return err
	}
	if len(videos) == 0 {
		_, _ = fmt.Fprintf(out, "No videos stored for run %s\n", runID)
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tFILENAME\tSIZE\tTYPE\tCREATED")
	for _, v := range videos {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", v.ID, v.Filename, v.SizeBytes, v.ContentType, v.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func exportVideo(ctx context.Context, store videoStore, id int64, out string) (string, error) {
	v, err := store.GetVideo(ctx, id)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", fmt.Errorf("video %d not found", id)
	}
	if out == "" {
		out = v.Filename
	}
	if err := os.WriteFile(out, v.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write video: %w", err)
	}
	return out, nil
}
