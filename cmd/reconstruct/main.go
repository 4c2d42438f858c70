// Command reconstruct runs a self-contained ptychography demonstration:
// it simulates diffraction data from a synthetic object and probe, then
// recovers the object (and optionally the probe) with the divided
// conjugate-gradient solver, writing cost and image outputs as PNG
// files.
package main

import (
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/bob-anderson-ok/ptycho/field"
	"github.com/bob-anderson-ok/ptycho/operators"
	"github.com/bob-anderson-ok/ptycho/probe"
	"github.com/bob-anderson-ok/ptycho/solvers"
)

const version = "1_0_0"

func main() {

	programStart := time.Now()

	args := os.Args

	if len(args) != 2 {
		fmt.Println("\n\tWrong number of arguments.\n\tUsage: reconstruct <parameter-file>")
		os.Exit(1)
	}

	path := args[1]

	// Read the Json5 (or Json) parameter file
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Println(fmt.Errorf("\n\tAttempt to read input file %q failed: %w\n", path, err))
		os.Exit(2)
	}

	jsonTable, err := parseParameterFile(data)
	if err != nil {
		fmt.Println(fmt.Errorf("\n\tFormat error in file %q: %w\n", path, err))
		os.Exit(3)
	}

	var job ReconstructionJob
	msg, ok := validateJsonFileAndFillJob(jsonTable, &job)
	if !ok {
		fmt.Println(msg)
		os.Exit(4)
	}

	// Check for user wanting printout of complete jsonTable
	if job.ShowInput {
		fmt.Printf("%s", "\nPrintout of complete jsonTable contents...\n")
		fmt.Println(string(data))
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	logger.Info("reconstruct", "version", version, "title", job.Title)

	if err := run(job, logger); err != nil {
		logger.Error("reconstruction failed", "err", err)
		os.Exit(5)
	}

	fmt.Printf("Total run time: %v\n", time.Since(programStart))
}

func run(job ReconstructionJob, logger *slog.Logger) error {
	model, err := operators.ParseModel(job.NoiseModel)
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(job.RandomSeed))

	op, err := operators.NewPtycho(model, job.ProbeWidthPixels, job.DetectorWidthPixels, job.FlyPositions)
	if err != nil {
		return err
	}
	defer op.Close()

	// Ground truth, scan, and simulated measurements.
	truth := makeTruthObject(job.ObjectWidthPixels, rng)
	scan := makeScanGrid(job, rng)
	truthProbe := probe.Disk(job.ProbeWidthPixels, 0.2, 0.8)
	if job.NumProbeModes > 1 {
		truthProbe = probe.AddModesRandomPhase(truthProbe, job.NumProbeModes, rng)
	}
	measured, err := simulateIntensity(op, truth, scan, truthProbe)
	if err != nil {
		return err
	}
	logger.Info("simulated data",
		"positions", scan.Positions,
		"patterns", measured.Positions,
		"detector", job.DetectorWidthPixels,
		"model", model.String())

	// Initial estimates: a featureless object and the true illumination
	// envelope without its modal structure.
	psi := field.NewObject(1, truth.Height, truth.Width)
	for i := range psi.Data {
		psi.Data[i] = 1
	}
	est := probe.Disk(job.ProbeWidthPixels, 0.2, 0.8)
	if job.NumProbeModes > 1 {
		est = probe.AddModesRandomPhase(est, job.NumProbeModes, rng)
	}

	var eigen *field.EigenProbe
	var weights *field.Weights
	if job.NumEigenProbes > 0 {
		eigen, weights, err = probe.InitVaryingProbe(scan, est, job.NumEigenProbes, est.Modes, rng)
		if err != nil {
			return err
		}
		if eigen != nil {
			logger.Info("varying probe enabled", "eigen", eigen.Eigen, "modes", eigen.Modes)
		}
	}

	constraints := probe.DefaultOptions()
	costs := make([]float64, 0, job.NumOuterIterations)
	var farplane *field.Wavefield
	for i := 0; i < job.NumOuterIterations; i++ {
		result, err := solvers.Divided(op, measured, est, scan, psi, solvers.DividedOptions{
			RecoverPsi:   job.RecoverPsi,
			RecoverProbe: job.RecoverProbe,
			CGIter:       job.CgIterations,
			Logger:       logger,
		})
		if err != nil {
			return err
		}
		psi, est, scan, farplane = result.Psi, result.Probe, result.Scan, result.Farplane
		if job.RecoverProbe && est.Modes > 1 {
			probe.ApplyConstraints(est, constraints)
		}
		costs = append(costs, result.Cost)
		logger.Info("outer iteration", "iteration", i, "cost", result.Cost)
	}

	// With eigen probes configured, refine the illumination-variation
	// weights against the final residuals.
	if eigen != nil && farplane != nil {
		if err := refineVaryingProbe(op, psi, scan, est, farplane, eigen, weights, logger); err != nil {
			return err
		}
	}

	if err := makeCostPlot(costs, job.Title, filepath.Join(job.OutputFolder, "cost_history.png")); err != nil {
		return err
	}
	if err := saveMagnitudePNG(psi.Plane(0), psi.Height, psi.Width,
		filepath.Join(job.OutputFolder, "object_magnitude.png")); err != nil {
		return err
	}
	if err := savePhasePNG(psi.Plane(0), psi.Height, psi.Width,
		filepath.Join(job.OutputFolder, "object_phase.png")); err != nil {
		return err
	}
	logger.Info("wrote outputs", "folder", job.OutputFolder)
	return nil
}

// simulateIntensity records noise-free diffraction intensities from the
// ground truth.
func simulateIntensity(op *operators.Ptycho, truth *field.Object, scan *field.Scan, pr *field.Probe) (*field.Intensity, error) {
	farplane, err := op.Fwd(pr, scan, truth)
	if err != nil {
		return nil, err
	}
	return op.Propagation.Intensity(farplane)
}
