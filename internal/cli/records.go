package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/pipeline/internal/engine"
	"github.com/roach88/pipeline/internal/query"
	"github.com/roach88/pipeline/internal/record"
)

type recordOutput struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Version int64  `json:"version"`
	Tier    string `json:"tier,omitempty"`
	Payload any    `json:"payload"`
}

func newRecordOutput(l engine.Loaded) recordOutput {
	return recordOutput{Type: l.Key.Type, ID: l.Key.ID, Version: l.Version, Tier: l.Tier.String(), Payload: l.Value}
}

func (r recordOutput) String() string {
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		payload = []byte(fmt.Sprint(r.Payload))
	}
	return fmt.Sprintf("%s/%s v%d %s", r.Type, r.ID, r.Version, payload)
}

type saveOutput struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Version int64  `json:"version"`
	Warning string `json:"warning,omitempty"`
}

func (s saveOutput) String() string {
	out := fmt.Sprintf("%s/%s saved at v%d", s.Type, s.ID, s.Version)
	if s.Warning != "" {
		out += "\nWarning: " + s.Warning
	}
	return out
}

type deleteOutput struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (d deleteOutput) String() string {
	return fmt.Sprintf("%s/%s deleted", d.Type, d.ID)
}

type findOutput struct {
	Count   int            `json:"count"`
	Records []recordOutput `json:"records"`
}

func (f findOutput) String() string {
	var b strings.Builder
	for _, r := range f.Records {
		b.WriteString(r.String())
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "%d record(s)", f.Count)
	return b.String()
}

func formatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <type> <id>",
		Short: "Load a record",
		Example: `  pipeline get player p1
  pipeline get player p1 --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, logger, err := openRuntime(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer closeRuntime(rt, logger)

			out := formatter(cmd, rootOpts)
			l, err := rt.Engine.Load(cmd.Context(), record.NewKey(args[0], args[1]))
			if err != nil {
				return out.Fail("load failed", err)
			}
			out.VerboseLog("served from %s", l.Tier)
			return out.Success(newRecordOutput(l))
		},
	}
}

// PutOptions holds flags for the put command.
type PutOptions struct {
	*RootOptions
	Data      string
	IfVersion int64
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "put <type> <id>",
		Short: "Save a record",
		Long: `Save a JSON document as the next version of a record.

The document is read from --data, or from stdin when --data is omitted.
With --if-version the save only succeeds if the stored version matches;
use 0 to require that the record does not exist yet.`,
		Example: `  pipeline put player p1 --data '{"name":"Ann","level":3}'
  echo '{"name":"Ann"}' | pipeline put player p1 --if-version 0`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return put(opts, cmd, record.NewKey(args[0], args[1]))
		},
	}

	cmd.Flags().StringVarP(&opts.Data, "data", "d", "", "document as JSON (default: read stdin)")
	cmd.Flags().Int64Var(&opts.IfVersion, "if-version", -1, "expected stored version (-1 = unconditional)")

	return cmd
}

func put(opts *PutOptions, cmd *cobra.Command, key record.Key) error {
	out := formatter(cmd, opts.RootOptions)

	data := []byte(opts.Data)
	if opts.Data == "" {
		var err error
		if data, err = io.ReadAll(cmd.InOrStdin()); err != nil {
			return WrapExitError(ExitCommandError, "failed to read stdin", err)
		}
	}
	doc, err := record.UnmarshalDocument(data)
	if err != nil {
		out.Error(ErrCodeInvalid, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid document", err)
	}

	rt, _, logger, err := openRuntime(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeRuntime(rt, logger)

	c, err := rt.Engine.Codecs().Resolve(key.Type)
	if err != nil {
		return out.Fail("save failed", err)
	}
	obj, err := c.Decode(doc)
	if err != nil {
		out.Error(ErrCodeInvalid, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid document", err)
	}

	var saveOpts []engine.SaveOption
	if opts.IfVersion >= 0 {
		saveOpts = append(saveOpts, engine.IfVersion(opts.IfVersion))
	}
	version, err := rt.Engine.Save(cmd.Context(), key, obj, saveOpts...)
	if err != nil && version == 0 {
		return out.Fail("save failed", err)
	}

	res := saveOutput{Type: key.Type, ID: key.ID, Version: version}
	if err != nil {
		res.Warning = err.Error()
	}
	return out.Success(res)
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <type> <id>",
		Short:         "Delete a record from every tier",
		Example:       `  pipeline delete player p1`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, logger, err := openRuntime(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer closeRuntime(rt, logger)

			out := formatter(cmd, rootOpts)
			key := record.NewKey(args[0], args[1])
			if err := rt.Engine.Delete(cmd.Context(), key); err != nil {
				return out.Fail("delete failed", err)
			}
			return out.Success(deleteOutput{Type: key.Type, ID: key.ID})
		},
	}
}

// FindOptions holds flags for the find command.
type FindOptions struct {
	*RootOptions
	Filter string
	Skip   int
	Limit  int
	Sort   string
	Desc   bool
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FindOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "find <type>",
		Short: "Query storage for matching records",
		Long: `Query storage directly, bypassing both caches. Results are ordered by id.

The filter is a JSON predicate: {"field": ..., "op": ..., "value": ...}
combined with {"and": [...]}, {"or": [...]} and {"not": {...}}.
Operators: eq, ne, lt, lte, gt, gte. --sort orders by a payload field.`,
		Example: `  pipeline find player --filter '{"field":"name","op":"eq","value":"Ann"}'
  pipeline find player --skip 10 --limit 10 --format json
  pipeline find player --sort level --desc --limit 3`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return find(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.Filter, "filter", "f", "", "JSON filter (default: match all)")
	cmd.Flags().IntVar(&opts.Skip, "skip", 0, "skip the first n matches")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "return at most n matches (0 = all)")
	cmd.Flags().StringVar(&opts.Sort, "sort", "", "order by this payload field instead of id")
	cmd.Flags().BoolVar(&opts.Desc, "desc", false, "sort in descending order")

	return cmd
}

func find(opts *FindOptions, cmd *cobra.Command, typ string) error {
	out := formatter(cmd, opts.RootOptions)

	pred, err := query.ParseFilter([]byte(opts.Filter))
	if err != nil {
		return out.Fail("invalid filter", err)
	}
	if opts.Skip < 0 || opts.Limit < 0 {
		return NewExitError(ExitCommandError, "--skip and --limit must not be negative")
	}

	rt, _, logger, err := openRuntime(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeRuntime(rt, logger)

	findOpts := []engine.FindOption{engine.Skip(opts.Skip), engine.Limit(opts.Limit)}
	if opts.Sort != "" {
		findOpts = append(findOpts, engine.SortBy(opts.Sort, opts.Desc))
	}

	res := findOutput{Records: []recordOutput{}}
	for l, err := range rt.Engine.Find(typ, pred, findOpts...).All(cmd.Context()) {
		if err != nil {
			return out.Fail("find failed", err)
		}
		res.Records = append(res.Records, newRecordOutput(l))
	}
	res.Count = len(res.Records)
	return out.Success(res)
}
