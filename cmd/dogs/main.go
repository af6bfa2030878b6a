// Command dogs runs one-off jobs against the classifier and its database:
// classifying a local image, building the labels file, and migrating.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/juju/ansiterm"
	"github.com/youta-t/flarc"

	"github.com/Brownie44l1/dogs-api/internal/config"
	"github.com/Brownie44l1/dogs-api/internal/db"
	"github.com/Brownie44l1/dogs-api/internal/model"
	"github.com/Brownie44l1/dogs-api/internal/render"
)

func main() {
	logger := log.Default()
	logger.SetPrefix("[dogs] ")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	dogs, err := newCommand()
	if err != nil {
		logger.Fatal(err)
	}
	os.Exit(flarc.Run(ctx, dogs, flarc.WithHelp(true)))
}

func newCommand() (flarc.Command, error) {
	predict, err := newPredictCommand()
	if err != nil {
		return nil, err
	}
	labels, err := newLabelsCommand()
	if err != nil {
		return nil, err
	}
	migrate, err := newMigrateCommand()
	if err != nil {
		return nil, err
	}

	return flarc.NewCommandGroup(
		"Stanford Dogs classifier tools.",
		struct{}{},
		flarc.WithSubcommand("predict", predict),
		flarc.WithSubcommand("labels", labels),
		flarc.WithSubcommand("migrate", migrate),
	)
}

type PredictFlags struct {
	Model       string `flag:"model" help:"onnx model file"`
	Metadata    string `flag:"metadata" help:"model metadata file"`
	Labels      string `flag:"labels" help:"labels file overriding the metadata classes"`
	OnnxRuntime string `flag:"onnxruntime" help:"onnxruntime shared library. defaults to $ONNXRUNTIME_LIB"`
	Device      string `flag:"device" metavar:"cpu|gpu|mps" help:"device to run the model on"`
	GroundTruth string `flag:"gt" help:"expected class; colors the answer green or red"`
	Top         int    `flag:"top" help:"how many classes to list"`
	Out         string `flag:"out" metavar:"path/to/view.jpg" help:"write the prediction view as JPEG to this path"`
	Color       bool   `flag:"color" help:"force colored output"`
	JSON        bool   `flag:"json" help:"print the result as JSON"`
}

const ARG_IMAGE = "IMAGE"

func newPredictCommand() (flarc.Command, error) {
	return flarc.NewCommand(
		"Classify a local image.",
		PredictFlags{
			Model:       "models/model.onnx",
			Metadata:    "models/model_metadata.json",
			OnnxRuntime: os.Getenv("ONNXRUNTIME_LIB"),
			Device:      "cpu",
			Top:         5,
		},
		flarc.Args{
			{
				Name: ARG_IMAGE, Required: false, Repeatable: false,
				Help: "jpg or png image to classify. defaults to resources/test_sample.jpg",
			},
		},
		predictTask,
		flarc.WithDescription(`
Classify a local image with the ONNX model and print the top classes.

With --gt, the answer is colored green when it matches the expected class and red
otherwise. With --out, the same two-panel view the API serves is written as JPEG.
`),
	)
}

func predictTask(ctx context.Context, c flarc.Commandline[PredictFlags], _ []any) error {
	flags := c.Flags()

	imgPath := "resources/test_sample.jpg"
	if a := c.Args()[ARG_IMAGE]; len(a) != 0 {
		imgPath = a[0]
	}
	device, err := model.ParseDevice(flags.Device)
	if err != nil {
		return fmt.Errorf("%w: %s", flarc.ErrUsage, err)
	}
	file, err := os.ReadFile(imgPath)
	if err != nil {
		return err
	}

	opts := []model.Option{model.WithSharedLibrary(flags.OnnxRuntime), model.WithDefaultDevice(device)}
	if flags.Labels != "" {
		opts = append(opts, model.WithLabels(flags.Labels))
	}
	server, err := model.NewServer(flags.Model, flags.Metadata, opts...)
	if err != nil {
		return err
	}
	defer server.Close()

	result, err := server.Classify(ctx, file, device)
	if err != nil {
		return err
	}

	w := ansiterm.NewWriter(c.Stdout())
	if flags.Color {
		w.SetColorCapable(true)
	}
	if flags.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(model.NewPredictionResponse(result)); err != nil {
			return err
		}
	} else {
		writeResult(w, result, flags.GroundTruth, flags.Top)
	}

	if flags.Out != "" {
		img, err := model.DecodeImage(file)
		if err != nil {
			return err
		}
		view, err := render.View(img, result.Predictions, flags.GroundTruth)
		if err != nil {
			return err
		}
		f, err := os.Create(flags.Out)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := render.EncodeJPEG(f, view); err != nil {
			return err
		}
		fmt.Fprintf(w, "view written to %s\n", flags.Out)
	}
	return nil
}

var (
	matchColor    = ansiterm.Foreground(ansiterm.Green)
	mismatchColor = ansiterm.Foreground(ansiterm.Red)
)

func writeResult(w *ansiterm.Writer, result *model.Result, groundTruth string, top int) {
	best, ok := result.Predictions.Top()
	if !ok {
		fmt.Fprintln(w, "the model returned no classes")
		return
	}

	fmt.Fprint(w, "The output image has been classified as ")
	switch {
	case groundTruth == "":
		fmt.Fprint(w, best.Class)
	case strings.EqualFold(groundTruth, best.Class):
		matchColor.Fprintf(w, "%s", best.Class)
	default:
		mismatchColor.Fprintf(w, "%s", best.Class)
	}
	fmt.Fprintf(w, " (%s)\n", result.Device)

	for i, s := range result.Predictions {
		if i >= top {
			break
		}
		fmt.Fprintf(w, "  %-32s %6.2f%%\n", s.Class, 100*s.Confidence)
	}
}

type LabelsFlags struct {
	Annotations string `flag:"annotations" metavar:"path/to/Annotation" help:"directory holding one n<synset>-<breed> directory per class"`
	Out         string `flag:"out" help:"labels file to write"`
}

func newLabelsCommand() (flarc.Command, error) {
	return flarc.NewCommand(
		"Write the labels file from a Stanford Dogs annotation directory.",
		LabelsFlags{
			Annotations: "data/Annotation",
			Out:         "resources/labels.txt",
		},
		flarc.Args{},
		labelsTask,
	)
}

func labelsTask(_ context.Context, c flarc.Commandline[LabelsFlags], _ []any) error {
	flags := c.Flags()

	names, err := model.LabelsFromAnnotations(flags.Annotations)
	if err != nil {
		return err
	}
	if err := model.WriteLabels(flags.Out, names); err != nil {
		return err
	}
	fmt.Fprintf(c.Stdout(), "%d labels written to %s\n", len(names), flags.Out)
	return nil
}

type MigrateFlags struct {
	Config string `flag:"config" help:"config file path. defaults and environment are used without it"`
}

func newMigrateCommand() (flarc.Command, error) {
	return flarc.NewCommand(
		"Apply the database schema.",
		MigrateFlags{},
		flarc.Args{},
		migrateTask,
	)
}

func migrateTask(ctx context.Context, c flarc.Commandline[MigrateFlags], _ []any) error {
	conf, err := config.Load(c.Flags().Config)
	if err != nil {
		return err
	}
	pool, err := db.Connect(ctx, conf.Database.URL, 1, 1)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}
	fmt.Fprintln(c.Stdout(), "database schema is up to date")
	return nil
}
