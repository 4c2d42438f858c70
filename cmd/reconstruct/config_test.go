package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const goodParams = `{
	// json5 comments are allowed in parameter files
	title: "test run",
	probe_width_pixels: 16,
	detector_width_pixels: 32,
	noise_model: "poisson",
	num_outer_iterations: 5,
}`

func TestValidateFillsDefaults(t *testing.T) {
	table, err := parseParameterFile([]byte(goodParams))
	require.NoError(t, err)

	var job ReconstructionJob
	msg, ok := validateJsonFileAndFillJob(table, &job)
	require.True(t, ok, msg)

	require.Equal(t, "test run", job.Title)
	require.Equal(t, 16, job.ProbeWidthPixels)
	require.Equal(t, 32, job.DetectorWidthPixels)
	require.Equal(t, "poisson", job.NoiseModel)
	require.Equal(t, 5, job.NumOuterIterations)

	// Defaults for everything the file left out.
	require.Equal(t, 128, job.ObjectWidthPixels)
	require.Equal(t, 10, job.ScanGridPoints)
	require.Equal(t, 8.0, job.ScanStepPixels)
	require.Equal(t, 4, job.CgIterations)
	require.True(t, job.RecoverPsi)
	require.False(t, job.RecoverProbe)
	require.Equal(t, 1, job.NumProbeModes)
	require.Equal(t, 1, job.FlyPositions)
	require.Equal(t, int64(42), job.RandomSeed)
	require.Equal(t, ".", job.OutputFolder)
}

func TestValidateRejectsMissingProbeWidth(t *testing.T) {
	table, err := parseParameterFile([]byte(`{ title: "no probe" }`))
	require.NoError(t, err)

	var job ReconstructionJob
	msg, ok := validateJsonFileAndFillJob(table, &job)
	require.False(t, ok)
	require.Contains(t, msg, "probe_width_pixels")
}

func TestValidateRejectsWrongTypes(t *testing.T) {
	table, err := parseParameterFile([]byte(`{ probe_width_pixels: "sixteen" }`))
	require.NoError(t, err)

	var job ReconstructionJob
	msg, ok := validateJsonFileAndFillJob(table, &job)
	require.False(t, ok)
	require.Contains(t, msg, "probe_width_pixels")
}

func TestValidateRejectsNarrowDetector(t *testing.T) {
	table, err := parseParameterFile([]byte(`{
		probe_width_pixels: 16,
		detector_width_pixels: 8,
	}`))
	require.NoError(t, err)

	var job ReconstructionJob
	msg, ok := validateJsonFileAndFillJob(table, &job)
	require.False(t, ok)
	require.Contains(t, msg, "detector_width_pixels")
}
