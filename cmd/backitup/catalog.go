package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/backitup/backitup/internal/catalog"
)

var (
	catalogListSchedule string
	catalogListKind     string
	catalogJSON         bool
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the artifact catalog",
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active artifacts",
	Long: `List active artifacts in the catalog, newest first.

Examples:
  backitup catalog list
  backitup catalog list --schedule nightly
  backitup catalog list --kind volume --json`,
	RunE: runCatalogList,
}

var catalogShowCmd = &cobra.Command{
	Use:   "show <artifact-id>",
	Short: "Show one artifact record in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogShow,
}

func init() {
	catalogListCmd.Flags().StringVar(&catalogListSchedule, "schedule", "", "filter by owning schedule")
	catalogListCmd.Flags().StringVar(&catalogListKind, "kind", "", "filter by kind (files|volume)")
	catalogCmd.PersistentFlags().BoolVar(&catalogJSON, "json", false, "emit JSON")
	catalogCmd.AddCommand(catalogListCmd)
	catalogCmd.AddCommand(catalogShowCmd)
	rootCmd.AddCommand(catalogCmd)
}

func openCatalog() (*catalog.Catalog, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return catalog.Init(cfg.Database.Path)
}

func runCatalogList(cmd *cobra.Command, _ []string) error {
	cat, err := openCatalog()
	if err != nil {
		return err
	}
	defer func() { _ = cat.Close() }()

	ctx := cmd.Context()
	var records []catalog.ArtifactRecord
	switch {
	case catalogListSchedule != "":
		records, err = cat.ListActiveBySchedule(ctx, catalogListSchedule)
	case catalogListKind != "":
		kind := catalog.Kind(catalogListKind)
		if kind != catalog.KindFiles && kind != catalog.KindVolume {
			return fmt.Errorf("invalid kind %q (want files or volume)", catalogListKind)
		}
		records, err = cat.ListActiveByKind(ctx, kind)
	default:
		records, err = cat.ListAllActive(ctx)
	}
	if err != nil {
		return err
	}

	if catalogJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ARTIFACT\tSCHEDULE\tKIND\tCREATED\tSIZE\tDESTINATIONS")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ArtifactID, r.Schedule, r.Kind,
			r.CreatedAt.Local().Format(time.RFC3339),
			r.ArchiveSizeBytes, destinationSummary(r))
	}
	return w.Flush()
}

func runCatalogShow(cmd *cobra.Command, args []string) error {
	cat, err := openCatalog()
	if err != nil {
		return err
	}
	defer func() { _ = cat.Close() }()

	r, err := cat.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if catalogJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	fmt.Printf("artifact:  %s\n", r.ArtifactID)
	fmt.Printf("schedule:  %s\n", r.Schedule)
	fmt.Printf("kind:      %s\n", r.Kind)
	fmt.Printf("status:    %s\n", r.Status)
	fmt.Printf("archive:   %s\n", r.ArchiveFilename)
	fmt.Printf("size:      %d bytes\n", r.ArchiveSizeBytes)
	fmt.Printf("checksum:  %s\n", r.Checksum)
	fmt.Printf("created:   %s\n", r.CreatedAt.Local().Format(time.RFC3339))
	if r.Kind == catalog.KindVolume {
		fmt.Printf("volume:    %s (in use at capture: %v)\n", r.VolumeName, r.VolumeWasInUse)
	} else {
		fmt.Printf("files:     %d\n", r.FilesCount)
		fmt.Printf("sources:   %s\n", strings.Join(r.SourcePaths, ", "))
	}
	if r.Local.IsRecorded() {
		fmt.Printf("local:     %s%s\n", r.Local.Location, deletedSuffix(r.Local.DeletedAt))
	}
	if r.Remote.IsRecorded() {
		fmt.Printf("remote:    %s%s\n", r.Remote.Location(), deletedSuffix(r.Remote.DeletedAt))
	}
	return nil
}

func destinationSummary(r catalog.ArtifactRecord) string {
	var parts []string
	if r.Local.IsRecorded() {
		parts = append(parts, "local"+deletedSuffix(r.Local.DeletedAt))
	}
	if r.Remote.IsRecorded() {
		parts = append(parts, "remote"+deletedSuffix(r.Remote.DeletedAt))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}

func deletedSuffix(deletedAt *time.Time) string {
	if deletedAt == nil {
		return ""
	}
	return " (deleted " + deletedAt.Local().Format("2006-01-02") + ")"
}
