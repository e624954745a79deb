// Package main provides the nnexport CLI.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/born-ml/nnexport/convert"
	"github.com/born-ml/nnexport/internal/nnets"
	"github.com/born-ml/nnexport/internal/onnx"
)

const version = "v0.1.0-dev"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		logrus.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		usage(stdout)
		return nil
	}

	switch args[0] {
	case "convert":
		return runConvert(args[1:])
	case "inspect":
		return runInspect(args[1:], stdout)
	case "ops":
		for _, op := range onnx.ListSupportedOps() {
			fmt.Fprintln(stdout, op)
		}
		return nil
	case "version":
		fmt.Fprintf(stdout, "nnexport %s\n", version)
		return nil
	case "help", "-h", "-help", "--help":
		usage(stdout)
		return nil
	}
	usage(stdout)
	return errors.Errorf("unknown command %q", args[0])
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "nnexport - export convolutional networks to the nnets operator format")
	fmt.Fprintf(w, "Version: %s\n\n", version)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  convert    Convert an ONNX model to a listing and a weights file")
	fmt.Fprintln(w, "  inspect    Print the operations of a listing or an ONNX model")
	fmt.Fprintln(w, "  ops        List the supported ONNX operators")
	fmt.Fprintln(w, "  version    Show version")
}

func runConvert(args []string) error {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	in := fs.String("in", "", "input ONNX model")
	outModel := fs.String("out-model", "", "output operator listing (YAML)")
	outData := fs.String("out-data", "", "output weights (SafeTensors)")
	prefix := fs.String("prefix", "", "prefix of operation and blob names")
	half := fs.Bool("f16", false, "store weights in half precision")
	outputs := fs.String("outputs", "", "comma-separated layers that must be exported with unity gain (default: model outputs)")
	verbose := fs.Bool("v", false, "log every converted layer")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("convert: -in is required")
	}
	base := strings.TrimSuffix(*in, filepath.Ext(*in))
	if *outModel == "" {
		*outModel = base + ".yaml"
	}
	if *outData == "" {
		*outData = base + ".safetensors"
	}

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	opts := convert.DefaultOptions()
	opts.Prefix = *prefix
	opts.Logger = logger
	if *outputs != "" {
		opts.Outputs = strings.Split(*outputs, ",")
	}

	res, err := convert.ConvertONNXFile(*in, opts)
	if err != nil {
		if ce, ok := convert.AsConversionError(err); ok {
			logger.WithFields(logrus.Fields{
				"layer":  ce.Layer,
				"reason": ce.Reason.String(),
			}).Error("layer cannot be converted")
		}
		return err
	}

	saveOpts := convert.DefaultSaveOptions()
	saveOpts.Half = *half
	saveOpts.Metadata = map[string]string{
		"source":  filepath.Base(*in),
		"version": version,
	}
	if err := convert.Save(res, *outModel, *outData, saveOpts); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"operations": res.Model.Len(),
		"blobs":      res.Blobs.Len(),
		"model":      *outModel,
		"data":       *outData,
	}).Info("model converted")
	return nil
}

func runInspect(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	path := fs.String("model", "", "operator listing (YAML) or ONNX model")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return errors.New("inspect: -model is required")
	}

	if strings.EqualFold(filepath.Ext(*path), ".onnx") {
		info, err := onnx.GetModelInfo(*path)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Producer: %s %s\n", info.ProducerName, info.ProducerVersion)
		fmt.Fprintf(stdout, "IR version: %d, opset: %d\n", info.IRVersion, info.OpsetVersion)
		fmt.Fprintf(stdout, "Inputs: %v\n", info.InputNames)
		fmt.Fprintf(stdout, "Outputs: %v\n", info.OutputNames)
		fmt.Fprintf(stdout, "Nodes: %d, weights: %d\n", info.NodeCount, info.WeightCount)
		for _, op := range info.Ops() {
			fmt.Fprintf(stdout, "  %-24s %d\n", op, info.OpCounts[op])
		}
		return nil
	}

	model, err := nnets.ReadListingFile(*path)
	if err != nil {
		return err
	}
	for _, op := range model.Operations() {
		fmt.Fprintf(stdout, "%-12s %s\n", op.Type(), op.ID())
		for _, c := range model.InputsOf(op.ID()) {
			line := fmt.Sprintf("    input %d <- %s:%d", c.Input, c.Source, c.Output)
			if c.Shuffle != 0 {
				line += fmt.Sprintf(" shuffle %d", c.Shuffle)
			}
			fmt.Fprintln(stdout, line)
		}
	}
	return nil
}
