// ilgen translates CIL method bodies to three-address IR.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/ilgen/config"
	"github.com/chazu/ilgen/metadata"
)

// app carries global flags and the loaded configuration.
type app struct {
	verbosity int
	dir       string
	imagePath string
	noColor   bool
	cfg       *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "ilgen",
		Short:         "Translate CIL bytecode to three-address IR",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.CountVarP(&a.verbosity, "verbose", "v", "increase log verbosity (repeatable)")
	flags.StringVarP(&a.dir, "dir", "C", ".", "project directory to search for "+config.FileName)
	flags.StringVarP(&a.imagePath, "image", "i", "", "image file (default: [project] image)")
	flags.BoolVar(&a.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newInitCmd(a),
		newTranslateCmd(a),
		newDisCmd(a),
		newRunCmd(a),
		newRunsCmd(a),
		newShowCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.FindAndLoad(a.dir)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = config.Default(a.dir)
	}
	a.cfg = cfg

	verbosity := max(a.verbosity, cfg.Log.Verbosity)
	commonlog.Configure(verbosity, cfg.LogFile())

	if a.noColor || !isTerminal(cmd.OutOrStdout()) {
		color.NoColor = true
	}
	return nil
}

func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// image loads the image named by --image, or the project image.
func (a *app) image() (*metadata.Image, error) {
	path := a.imagePath
	if path == "" {
		path = a.cfg.ImagePath()
	}
	if path == "" {
		return nil, fmt.Errorf("no image given and no [project] image in %s", config.FileName)
	}
	img, err := metadata.LoadFile(path)
	if err != nil {
		return nil, err
	}
	a.cfg.Apply(img)
	return img, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", red(err.Error()))
		os.Exit(1)
	}
}
