package config

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/compozy/notebook/cli/helpers"
	pkgconfig "github.com/compozy/notebook/pkg/config"
)

const redacted = "[REDACTED]"

// Entry is one resolved configuration value.
type Entry struct {
	Path   string `json:"path"`
	Value  any    `json:"value"`
	Source string `json:"source,omitempty"`
	EnvVar string `json:"env,omitempty"`
}

// NewConfigCommand groups configuration inspection commands.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the resolved configuration",
	}
	cmd.AddCommand(newShowCommand())
	return cmd
}

func newShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show configuration values and where they came from",
		Long: `Display the configuration after defaults, the config file, the environment
and command flags were applied. Secrets are always redacted.`,
		Args: cobra.NoArgs,
		RunE: runShow,
	}
	cmd.Flags().BoolP("sources", "s", false, "Show the source of each value")
	cmd.Flags().Bool("yaml", false, "Print the configuration as YAML")
	return cmd
}

func runShow(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := pkgconfig.FromContext(ctx)
	showSources, err := cmd.Flags().GetBool("sources")
	if err != nil {
		return err
	}
	asYAML, err := cmd.Flags().GetBool("yaml")
	if err != nil {
		return err
	}
	k, err := flatten(cfg)
	if err != nil {
		return err
	}
	if asYAML {
		return writeYAML(cmd.OutOrStdout(), k)
	}
	var svc pkgconfig.Service
	if showSources {
		svc = helpers.ConfigServiceFrom(ctx)
	}
	entries := Entries(k, svc)
	printer := helpers.NewPrinter(cmd.OutOrStdout(), helpers.DetectMode(cfg), helpers.ShouldUseColor())
	if printer.Mode() == helpers.ModeJSON {
		return printer.JSON(entries)
	}
	fields := make([]helpers.Field, 0, len(entries))
	for _, e := range entries {
		value := fmt.Sprint(e.Value)
		if e.Source != "" {
			value = fmt.Sprintf("%s (%s)", value, e.Source)
		}
		fields = append(fields, helpers.Field{Key: e.Path, Value: value})
	}
	return printer.Report("Configuration", entries, fields...)
}

func flatten(cfg *pkgconfig.Config) (*koanf.Koanf, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	for _, key := range k.Keys() {
		if pkgconfig.IsSensitiveConfigPath(key) {
			if err := k.Set(key, redacted); err != nil {
				return nil, fmt.Errorf("failed to redact %s: %w", key, err)
			}
		}
	}
	return k, nil
}

// Entries lists the flattened configuration sorted by path. Sources are
// filled in when svc is not nil.
func Entries(k *koanf.Koanf, svc pkgconfig.Service) []Entry {
	envByPath := make(map[string]string)
	for _, m := range pkgconfig.GenerateEnvMappings() {
		envByPath[m.ConfigPath] = m.EnvVar
	}
	keys := k.Keys()
	sort.Strings(keys)
	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		entry := Entry{Path: key, Value: displayValue(k.Get(key)), EnvVar: envByPath[key]}
		if svc != nil {
			entry.Source = string(svc.GetSource(key))
		}
		entries = append(entries, entry)
	}
	return entries
}

func displayValue(v any) any {
	switch val := v.(type) {
	case []string:
		return strings.Join(val, ",")
	case pkgconfig.SensitiveString:
		return redacted
	case fmt.Stringer:
		return val.String()
	default:
		return v
	}
}

func writeYAML(w io.Writer, k *koanf.Koanf) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(stringify(k.Raw())); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	return enc.Close()
}

// stringify renders durations and other Stringers the way they are written
// in a config file.
func stringify(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for key, value := range m {
		if nested, ok := value.(map[string]any); ok {
			out[key] = stringify(nested)
			continue
		}
		out[key] = displayValue(value)
	}
	return out
}
