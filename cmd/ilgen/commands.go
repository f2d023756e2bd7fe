package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/chazu/ilgen/archive"
	"github.com/chazu/ilgen/cil"
	"github.com/chazu/ilgen/config"
	"github.com/chazu/ilgen/ir"
	"github.com/chazu/ilgen/ir/interp"
	"github.com/chazu/ilgen/metadata"
	"github.com/chazu/ilgen/registry"
)

func newInitCmd(a *app) *cobra.Command {
	var name, image string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default " + config.FileName,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(a.dir)
			if err != nil {
				return err
			}
			cfg := config.Default(dir)
			cfg.Project.Name = name
			if cfg.Project.Name == "" {
				cfg.Project.Name = filepath.Base(dir)
			}
			cfg.Project.Image = image
			if err := config.Write(dir, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", filepath.Join(dir, config.FileName))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name (default: directory name)")
	cmd.Flags().StringVar(&image, "project-image", "", "image path recorded in the config")
	return cmd
}

// selectMethods resolves names, or returns every method with a body.
func selectMethods(img *metadata.Image, names []string) ([]*metadata.Method, error) {
	if len(names) == 0 {
		var out []*metadata.Method
		for _, m := range img.Methods {
			if m.HasBody() {
				out = append(out, m)
			}
		}
		return out, nil
	}
	out := make([]*metadata.Method, 0, len(names))
	for _, name := range names {
		m, ok := img.MethodByName(name)
		if !ok {
			return nil, fmt.Errorf("method %s: %w", name, metadata.ErrNotFound)
		}
		out = append(out, m)
	}
	return out, nil
}

func newTranslateCmd(a *app) *cobra.Command {
	var (
		methods []string
		workers int
		store   bool
		quiet   bool
	)
	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Translate methods and print their IR",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := a.image()
			if err != nil {
				return err
			}
			selected, err := selectMethods(img, methods)
			if err != nil {
				return err
			}
			if workers == 0 {
				workers = a.cfg.Registry.Workers
			}

			reg := registry.New(img, img, a.cfg.Options())
			// Failures are reported per method below.
			results, _ := registry.NewPool(reg, workers).Run(cmd.Context(), selected)

			out := cmd.OutOrStdout()
			if !quiet {
				for _, res := range results {
					if res.IR != nil {
						printMethod(out, res.IR)
					}
				}
			}
			printSummary(out, results)

			if store {
				ar, err := archive.Open(a.cfg.ArchivePath())
				if err != nil {
					return err
				}
				defer ar.Close()
				run, err := ar.Store(cmd.Context(), img.Name, results)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "archived run %s (%d new blobs)\n", bold(run.ID), run.NewBlobs)
			}

			if st := reg.Stats(); st.Failed > 0 {
				return fmt.Errorf("%d of %d methods failed to translate", st.Failed, len(selected))
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringSliceVarP(&methods, "method", "m", nil, "method to translate, as Type::Name or Name (default: all)")
	flags.IntVarP(&workers, "workers", "j", 0, "concurrent translations (default: [registry] workers)")
	flags.BoolVar(&store, "archive", false, "store the results in the archive")
	flags.BoolVarP(&quiet, "quiet", "q", false, "print only the summary")
	return cmd
}

func newDisCmd(a *app) *cobra.Command {
	var methods []string
	cmd := &cobra.Command{
		Use:   "dis",
		Short: "Disassemble method bodies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := a.image()
			if err != nil {
				return err
			}
			selected, err := selectMethods(img, methods)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range selected {
				body, err := metadata.ReadBody(img, m)
				if err != nil {
					return fmt.Errorf("%s: %w", img.MethodName(m), err)
				}
				fmt.Fprintf(out, "%s %s\n", bold(img.MethodName(m)), faint(fmt.Sprintf("maxstack=%d", body.MaxStack)))
				fmt.Fprintln(out, cil.DisassembleBody(body, img.TokenName))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&methods, "method", "m", nil, "method to disassemble (default: all)")
	return cmd
}

// parseArg converts a command-line argument to the kind of param.
func parseArg(p metadata.Param, s string) (interp.Value, error) {
	switch p.Kind {
	case ir.KindR4, ir.KindR8, ir.KindF:
		f, err := strconv.ParseFloat(s, 64)
		return interp.F(f), err
	case ir.KindI8, ir.KindU8, ir.KindI, ir.KindU:
		n, err := strconv.ParseInt(s, 0, 64)
		return interp.I8(n), err
	case ir.KindI1, ir.KindU1, ir.KindI2, ir.KindU2, ir.KindI4, ir.KindU4:
		n, err := strconv.ParseInt(s, 0, 32)
		return interp.I4(int32(n)), err
	}
	return 0, fmt.Errorf("cannot pass a %s argument from the command line", p.Kind)
}

func formatValue(k ir.Kind, v interp.Value) string {
	switch k {
	case ir.KindR4, ir.KindR8, ir.KindF:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case ir.KindI8, ir.KindU8, ir.KindI, ir.KindU:
		return strconv.FormatInt(v.Int64(), 10)
	}
	return strconv.FormatInt(int64(v.Int32()), 10)
}

func newRunCmd(a *app) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "run METHOD [ARG...]",
		Short: "Translate a static method and run it in the reference interpreter",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := a.image()
			if err != nil {
				return err
			}
			m, ok := img.MethodByName(args[0])
			if !ok {
				return fmt.Errorf("method %s: %w", args[0], metadata.ErrNotFound)
			}
			if !m.Is(metadata.MethodStatic) {
				return fmt.Errorf("%s is not static", img.MethodName(m))
			}
			if len(args)-1 != len(m.Sig.Params) {
				return fmt.Errorf("%s takes %d arguments, got %d", img.MethodName(m), len(m.Sig.Params), len(args)-1)
			}
			vals := make([]interp.Value, len(m.Sig.Params))
			for i, p := range m.Sig.Params {
				if vals[i], err = parseArg(p, args[i+1]); err != nil {
					return fmt.Errorf("argument %d: %w", i, err)
				}
			}

			reg := registry.New(img, img, a.cfg.Options())
			vm, err := interp.New(img, reg, interp.WithStepLimit(steps))
			if err != nil {
				return err
			}
			v, err := vm.Call(cmd.Context(), m, vals...)
			if err != nil {
				var exc *interp.Exception
				if errors.As(err, &exc) {
					for _, frame := range exc.Trace {
						fmt.Fprintf(cmd.ErrOrStderr(), "  at %s\n", frame)
					}
				}
				return err
			}
			if k := m.Sig.Return.Kind; k != ir.KindVoid && k != ir.KindInvalid {
				fmt.Fprintln(cmd.OutOrStdout(), formatValue(k, v))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 10_000_000, "instruction limit")
	return cmd
}

func newRunsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List archived translation runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ar, err := archive.Open(a.cfg.ArchivePath())
			if err != nil {
				return err
			}
			defer ar.Close()
			runs, err := ar.Runs(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range runs {
				failed := fmt.Sprintf("%d failed", r.Failed)
				if r.Failed > 0 {
					failed = red(failed)
				}
				fmt.Fprintf(out, "%s  %s  %-20s %d methods, %s\n",
					r.ID, faint(r.Started.Format("2006-01-02 15:04:05")), r.Image, r.Methods, failed)
			}
			return nil
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	var withIR bool
	cmd := &cobra.Command{
		Use:   "show RUN",
		Short: "Show the results of an archived run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ar, err := archive.Open(a.cfg.ArchivePath())
			if err != nil {
				return err
			}
			defer ar.Close()
			entries, err := ar.Entries(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				if e.Failed() {
					fmt.Fprintf(out, "%s %08x %s [%s] %s\n", red("FAIL"), e.Token, e.Method, e.Code, e.Error)
					continue
				}
				fmt.Fprintf(out, "%s %08x %s ir=%016x %s\n", green("ok  "), e.Token, e.Method, e.IRHash, faint(e.Duration))
				if withIR {
					m, err := ar.Method(cmd.Context(), args[0], e.Token)
					if err != nil {
						return err
					}
					printMethod(out, m)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withIR, "ir", false, "print the archived IR")
	return cmd
}
