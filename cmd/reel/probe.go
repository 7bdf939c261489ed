package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zsiec/reel/internal/catalog"
	"github.com/zsiec/reel/internal/demux"
	"github.com/zsiec/reel/internal/ingest"
)

func newProbeCmd(g *globals) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "probe <uri>",
		Short: "Print the streams and programs of a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load(cmd)
			if err != nil {
				return err
			}
			src := catalog.SourceFor(args[0])
			c, err := demux.Open(cmd.Context(), src, demux.Options{
				ProbeBytes: cfg.ProbeBytes,
				Registry:   ingest.NewRegistry(),
				Log:        log,
			})
			if err != nil {
				return err
			}
			defer c.Close()

			var cat catalog.Catalog
			if err := cat.Build(c.Streams(), c.Programs()); err != nil {
				return err
			}
			snap := cat.Snapshot()
			if asJSON {
				return writeProbeJSON(cmd.OutOrStdout(), snap)
			}
			return writeProbeTable(cmd.OutOrStdout(), snap)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

type probeStream struct {
	Index    int               `json:"index"`
	ID       int               `json:"id,omitempty"`
	Kind     string            `json:"kind"`
	Codec    string            `json:"codec"`
	TimeBase string            `json:"timeBase"`
	Detail   string            `json:"detail,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type probeProgram struct {
	ID       int               `json:"id"`
	Version  int               `json:"version"`
	Streams  []int             `json:"streams"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func streamDetail(sd catalog.StreamDescriptor) string {
	p := sd.Params
	switch {
	case p.Width > 0:
		return fmt.Sprintf("%dx%d", p.Width, p.Height)
	case p.SampleRate > 0:
		return fmt.Sprintf("%d Hz, %d ch", p.SampleRate, p.Channels)
	}
	return ""
}

func writeProbeJSON(w io.Writer, snap catalog.Snapshot) error {
	out := struct {
		Streams  []probeStream  `json:"streams"`
		Programs []probeProgram `json:"programs"`
	}{
		Streams:  make([]probeStream, 0, len(snap.Streams)),
		Programs: make([]probeProgram, 0, len(snap.Programs)),
	}
	for _, sd := range snap.Streams {
		out.Streams = append(out.Streams, probeStream{
			Index:    sd.Index,
			ID:       sd.ID,
			Kind:     sd.Kind.String(),
			Codec:    sd.Params.Codec,
			TimeBase: sd.TimeBase.String(),
			Detail:   streamDetail(sd),
			Metadata: sd.Metadata,
		})
	}
	for _, pd := range snap.Programs {
		out.Programs = append(out.Programs, probeProgram{
			ID:       pd.ID,
			Version:  pd.Version,
			Streams:  pd.Streams,
			Metadata: pd.Metadata,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeProbeTable(w io.Writer, snap catalog.Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tLABEL\tKIND\tCODEC\tDETAIL\tMETADATA")
	for _, sd := range snap.Streams {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			sd.Index, sd.Label(), sd.Kind, sd.Params.Codec, streamDetail(sd), formatMetadata(sd.Metadata))
	}
	if len(snap.Programs) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "PROGRAM\tLABEL\tVERSION\tSTREAMS")
		for _, pd := range snap.Programs {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%v\n", pd.ID, pd.Label(), pd.Version, pd.Streams)
		}
	}
	return tw.Flush()
}

func formatMetadata(md map[string]string) string {
	parts := make([]string, 0, len(md))
	for _, k := range slices.Sorted(maps.Keys(md)) {
		parts = append(parts, k+"="+md[k])
	}
	return strings.Join(parts, " ")
}
