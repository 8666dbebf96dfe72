package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rzbill/kadali/pkg/cli/format"
	"github.com/rzbill/kadali/pkg/store"
	"github.com/rzbill/kadali/pkg/types"
)

// printStructured writes v as JSON or YAML. It reports false for table output.
func (c *cli) printStructured(w io.Writer, v interface{}) (bool, error) {
	switch c.output {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case OutputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(v)
	}
	return false, nil
}

func (c *cli) printClusters(w io.Writer, clusters []*types.Cluster) error {
	if clusters == nil {
		clusters = []*types.Cluster{}
	}
	if done, err := c.printStructured(w, clusters); done {
		return err
	}

	if len(clusters) == 0 {
		_, err := fmt.Fprintln(w, "No clusters found")
		return err
	}

	now := time.Now()
	table := format.NewTable("ID", "NAME", "TYPE", "STATUS", "EXECUTORS", "IDLE", "AGE")
	for _, cl := range clusters {
		table.AddRow(
			cl.ID,
			cl.Name,
			string(cl.Type),
			format.StatusLabel(string(cl.Status)),
			strconv.Itoa(cl.Resources.ExecutorCount),
			idleColumn(cl, now),
			format.Age(cl.CreatedAt, now),
		)
	}
	return table.Render(w)
}

// idleColumn shows time left before the reaper may terminate a running cluster.
func idleColumn(cl *types.Cluster, now time.Time) string {
	deadline, ok := cl.IdleDeadline()
	if !ok {
		return "never"
	}
	if !cl.Status.IsActive() {
		return "-"
	}
	left := deadline.Sub(now).Truncate(time.Minute)
	if left <= 0 {
		return format.Warning("expired")
	}
	return left.String()
}

func (c *cli) printCluster(w io.Writer, cl *types.Cluster) error {
	if done, err := c.printStructured(w, cl); done {
		return err
	}

	r := cl.Resources
	lines := []string{
		format.Label("ID", cl.ID),
		format.Label("Name", cl.Name),
		format.Label("Tenant", cl.TenantID),
		format.Label("Type", string(cl.Type)),
		format.Label("Status", format.StatusLabel(string(cl.Status))),
	}
	if cl.StatusMessage != "" {
		lines = append(lines, format.Label("Message", cl.StatusMessage))
	}
	lines = append(lines,
		format.Label("Namespace", cl.Namespace),
		format.Label("Driver", orDash(cl.DriverName)),
		format.Label("Spark UI", orDash(cl.UIEndpoint)),
		format.Label("Driver size", fmt.Sprintf("%s, %d core(s)", r.DriverMemory, r.DriverCores)),
		format.Label("Executors", fmt.Sprintf("%d x %s, %d core(s)", r.ExecutorCount, r.ExecutorMemory, r.ExecutorCores)),
		format.Label("Idle budget", idleBudget(cl)),
		format.Label("Created", cl.CreatedAt.Format(time.RFC3339)),
		format.Label("Last activity", cl.LastActivityAt.Format(time.RFC3339)),
	)
	if cl.StartedAt != nil {
		lines = append(lines, format.Label("Started", cl.StartedAt.Format(time.RFC3339)))
	}
	if cl.TerminatedAt != nil {
		lines = append(lines, format.Label("Terminated", cl.TerminatedAt.Format(time.RFC3339)))
	}

	_, err := fmt.Fprintln(w, strings.Join(lines, "\n"))
	return err
}

func (c *cli) printRevisions(w io.Writer, revisions []store.ClusterRevision) error {
	if revisions == nil {
		revisions = []store.ClusterRevision{}
	}
	if done, err := c.printStructured(w, revisions); done {
		return err
	}

	table := format.NewTable("VERSION", "TIME", "STATUS", "MESSAGE")
	for _, rev := range revisions {
		status, message := "", ""
		if rev.Cluster != nil {
			status = format.StatusLabel(string(rev.Cluster.Status))
			message = rev.Cluster.StatusMessage
		}
		table.AddRow(rev.Version, rev.Timestamp.Format(time.RFC3339), status, message)
	}
	return table.Render(w)
}

func idleBudget(cl *types.Cluster) string {
	if cl.IdleMinutes <= 0 {
		return "disabled"
	}
	return fmt.Sprintf("%d minute(s)", cl.IdleMinutes)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
