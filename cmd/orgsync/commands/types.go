package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/openfroyo/orgsync/pkg/engine"
	"github.com/openfroyo/orgsync/pkg/report"
	"github.com/openfroyo/orgsync/pkg/resources"
)

func newTypesCommand(a *app) *cobra.Command {
	var dot bool

	cmd := &cobra.Command{
		Use:   "types",
		Short: "List the supported resource types and their dependencies",
		Long: `List the resource types selected by --resources (all by default) in the
order they are synced, with the types each one references.

With --dot the dependency graph is printed in Graphviz DOT format.`,
		Example: `  orgsync types
  orgsync types --resources monitors,synthetics_tests --force-missing-dependencies
  orgsync types --dot | dot -Tpng -o types.png`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := report.ParseFormat(a.cfg.Output)
			if err != nil {
				return err
			}

			schedule, err := buildSchedule(a.cfg.Resources, a.cfg.ForceMissingDependencies)
			if err != nil {
				return err
			}

			logger := a.logger()
			for _, cycle := range schedule.Cycles() {
				logger.Warn().Str("cycle", cycle).Msg("dependency cycle broken")
			}

			if dot {
				_, err := fmt.Fprint(cmd.OutOrStdout(), schedule.ToDOT())
				return err
			}
			return report.RenderTypes(cmd.OutOrStdout(), typeInfos(schedule), format)
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false, "print the dependency graph in DOT format")
	return cmd
}

// buildSchedule schedules the selected resource types.
func buildSchedule(selected []string, forceMissing bool) (*engine.Schedule, error) {
	adapters, err := resources.Build(selected, forceMissing)
	if err != nil {
		return nil, err
	}
	types := make([]engine.ResourceType, len(adapters))
	deps := make(map[engine.ResourceType][]engine.ResourceType, len(adapters))
	for i, ad := range adapters {
		types[i] = ad.Type()
		deps[ad.Type()] = ad.Config().Dependencies()
	}
	return engine.NewDAGBuilder().Build(types, deps)
}

func typeInfos(schedule *engine.Schedule) []report.TypeInfo {
	var infos []report.TypeInfo
	for _, level := range schedule.Levels() {
		for _, t := range level {
			missing := schedule.MissingDependencies(t)
			deps := append(schedule.Dependencies(t), missing...)
			sort.Slice(deps, func(i, j int) bool { return deps[i] < deps[j] })
			infos = append(infos, report.TypeInfo{
				Type:                t,
				Level:               schedule.Level(t),
				Dependencies:        deps,
				MissingDependencies: missing,
			})
		}
	}
	return infos
}
