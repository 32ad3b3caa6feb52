package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/jmorganca/ggml-sys/backend"
	"github.com/jmorganca/ggml-sys/discover"
	"github.com/jmorganca/ggml-sys/envconfig"
	"github.com/jmorganca/ggml-sys/pipeline"
)

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.SetAutoWrapText(false)
	return table
}

func ProbeHandler(cmd *cobra.Command, args []string) error {
	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	p, fs, mode, err := discover.Probe(env)
	if err != nil {
		return err
	}

	features := fs.String()
	if features == "" {
		features = "none"
	}

	writeTable(cmd.OutOrStdout(), []string{"PROPERTY", "VALUE"}, [][]string{
		{"host", p.HostTriple},
		{"target", p.TargetTriple},
		{"os", string(p.TargetOS)},
		{"arch", p.Arch()},
		{"cross", strconv.FormatBool(p.CrossCompile)},
		{"detection", string(mode)},
		{"features", features},
	})
	return nil
}

func PlanHandler(cmd *cobra.Command, args []string) error {
	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	req, err := requestFromFlags(cmd, env)
	if err != nil {
		return err
	}

	res, err := pipeline.DryRun(pipeline.Options{Env: env, Request: req})
	if err != nil {
		return err
	}

	data := [][]string{
		{"backends", joinBackends(res.Config.Backends)},
		{"disabled", joinBackends(res.Config.Disabled)},
		{"headers", strings.Join(res.Config.Headers, " ")},
		{"cpu", strings.Join(res.CPU.Args(), " ")},
		{"defines", strings.Join(res.Config.Defines.Args(), " ")},
	}
	if res.Config.PreBuild != nil {
		data = append(data, []string{"prebuild", res.Config.PreBuild.String()})
	}
	data = append(data,
		[]string{"root", res.Output.Root},
		[]string{"bindings", res.Bindings},
	)
	for _, line := range res.Plan.Lines() {
		data = append(data, []string{"link", line})
	}

	writeTable(cmd.OutOrStdout(), []string{"PROPERTY", "VALUE"}, data)
	return nil
}

func joinBackends(bs []backend.Backend) string {
	if len(bs) == 0 {
		return "none"
	}
	names := make([]string, len(bs))
	for i, b := range bs {
		names[i] = string(b)
	}
	return strings.Join(names, ",")
}

func EnvHandler(cmd *cobra.Command, args []string) error {
	if example, _ := cmd.Flags().GetBool("example"); example {
		fmt.Fprint(cmd.OutOrStdout(), envconfig.GenerateExampleConfig())
		return nil
	}

	env := envconfig.Load()
	vars := env.AsMap()
	keys := maps.Keys(vars)
	slices.Sort(keys)

	var data [][]string
	for _, k := range keys {
		v := vars[k]
		data = append(data, []string{v.Name, fmt.Sprintf("%v", v.Value), v.Description})
	}

	w := cmd.OutOrStdout()
	writeTable(w, []string{"NAME", "VALUE", "DESCRIPTION"}, data)
	if path := envconfig.ConfigPath(); path != "" {
		fmt.Fprintf(w, "\nmanifest: %s\n", path)
	}
	return nil
}
