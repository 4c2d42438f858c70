package main

import json "github.com/KevinWang15/go-json5"

func parseParameterFile(data []byte) (map[string]interface{}, error) {
	var jsonTable map[string]interface{}
	err := json.Unmarshal(data, &jsonTable)
	return jsonTable, err
}

func getLeafValue(jsonTable map[string]interface{}, path ...string) (interface{}, bool) {
	var cur interface{} = jsonTable
	for _, p := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// ReconstructionJob collects every parameter of one reconstruction run.
type ReconstructionJob struct {
	ShowInput           bool
	Title               string
	NoiseModel          string
	ObjectWidthPixels   int
	ProbeWidthPixels    int
	DetectorWidthPixels int
	ScanGridPoints      int
	ScanStepPixels      float64
	NumOuterIterations  int
	CgIterations        int
	RecoverPsi          bool
	RecoverProbe        bool
	NumProbeModes       int
	NumEigenProbes      int
	FlyPositions        int
	RandomSeed          int64
	OutputFolder        string
}

func validateJsonFileAndFillJob(jsonTable map[string]interface{}, job *ReconstructionJob) (string, bool) {
	msg := "No problem found in json file" // Initialize msg to presumed success.

	showInput, ok := getLeafValue(jsonTable, "show_input_bool")
	if !ok {
		job.ShowInput = false // default to false if this field is missing
	} else {
		job.ShowInput, ok = showInput.(bool)
		if !ok {
			msg = "show_input_bool: is not a bool"
			return msg, false
		}
	}

	title, ok := getLeafValue(jsonTable, "title")
	if ok {
		job.Title, ok = title.(string)
		if !ok {
			msg = "title: is not a string"
			return msg, false
		}
	}

	noiseModel, ok := getLeafValue(jsonTable, "noise_model")
	if !ok {
		job.NoiseModel = "gaussian" // Default value
	} else {
		job.NoiseModel, ok = noiseModel.(string)
		if !ok {
			msg = "noise_model: is not a string"
			return msg, false
		}
	}

	objectWidth, ok := getLeafValue(jsonTable, "object_width_pixels")
	if !ok {
		job.ObjectWidthPixels = 128 // Default to 128 pixels if this field is missing
	} else {
		width, ok := objectWidth.(float64)
		if !ok {
			msg = "object_width_pixels: is not a float64"
			return msg, false
		}
		job.ObjectWidthPixels = int(width)
	}

	probeWidth, ok := getLeafValue(jsonTable, "probe_width_pixels")
	if !ok {
		msg = "probe_width_pixels: not found"
		return msg, false
	}
	pWidth, ok := probeWidth.(float64)
	if !ok {
		msg = "probe_width_pixels: is not a float64"
		return msg, false
	}
	job.ProbeWidthPixels = int(pWidth)

	detectorWidth, ok := getLeafValue(jsonTable, "detector_width_pixels")
	if !ok {
		job.DetectorWidthPixels = job.ProbeWidthPixels // Default: no zero padding
	} else {
		dWidth, ok := detectorWidth.(float64)
		if !ok {
			msg = "detector_width_pixels: is not a float64"
			return msg, false
		}
		job.DetectorWidthPixels = int(dWidth)
	}
	if job.DetectorWidthPixels < job.ProbeWidthPixels {
		msg = "detector_width_pixels: must not be smaller than probe_width_pixels"
		return msg, false
	}

	gridPoints, ok := getLeafValue(jsonTable, "scan_grid_points")
	if !ok {
		job.ScanGridPoints = 10 // Default: a 10 x 10 raster scan
	} else {
		points, ok := gridPoints.(float64)
		if !ok {
			msg = "scan_grid_points: is not a float64"
			return msg, false
		}
		job.ScanGridPoints = int(points)
	}

	stepPixels, ok := getLeafValue(jsonTable, "scan_step_pixels")
	if !ok {
		job.ScanStepPixels = float64(job.ProbeWidthPixels) / 2 // Default: half-probe overlap
	} else {
		job.ScanStepPixels, ok = stepPixels.(float64)
		if !ok {
			msg = "scan_step_pixels: is not a float64"
			return msg, false
		}
	}

	numIter, ok := getLeafValue(jsonTable, "num_outer_iterations")
	if !ok {
		job.NumOuterIterations = 20 // Default value
	} else {
		iters, ok := numIter.(float64)
		if !ok {
			msg = "num_outer_iterations: is not a float64"
			return msg, false
		}
		job.NumOuterIterations = int(iters)
	}

	cgIter, ok := getLeafValue(jsonTable, "cg_iterations")
	if !ok {
		job.CgIterations = 4 // Default value
	} else {
		iters, ok := cgIter.(float64)
		if !ok {
			msg = "cg_iterations: is not a float64"
			return msg, false
		}
		job.CgIterations = int(iters)
	}

	recoverPsi, ok := getLeafValue(jsonTable, "recover_psi_bool")
	if !ok {
		job.RecoverPsi = true // Default value
	} else {
		job.RecoverPsi, ok = recoverPsi.(bool)
		if !ok {
			msg = "recover_psi_bool: is not a bool"
			return msg, false
		}
	}

	recoverProbe, ok := getLeafValue(jsonTable, "recover_probe_bool")
	if ok {
		job.RecoverProbe, ok = recoverProbe.(bool)
		if !ok {
			msg = "recover_probe_bool: is not a bool"
			return msg, false
		}
	}

	probeModes, ok := getLeafValue(jsonTable, "num_probe_modes")
	if !ok {
		job.NumProbeModes = 1 // Default value
	} else {
		modes, ok := probeModes.(float64)
		if !ok {
			msg = "num_probe_modes: is not a float64"
			return msg, false
		}
		job.NumProbeModes = int(modes)
	}

	eigenProbes, ok := getLeafValue(jsonTable, "num_eigen_probes")
	if !ok {
		job.NumEigenProbes = 0 // Default: no probe variation
	} else {
		probes, ok := eigenProbes.(float64)
		if !ok {
			msg = "num_eigen_probes: is not a float64"
			return msg, false
		}
		job.NumEigenProbes = int(probes)
	}

	fly, ok := getLeafValue(jsonTable, "fly_positions")
	if !ok {
		job.FlyPositions = 1 // Default: one position per diffraction pattern
	} else {
		positions, ok := fly.(float64)
		if !ok {
			msg = "fly_positions: is not a float64"
			return msg, false
		}
		job.FlyPositions = int(positions)
	}

	seed, ok := getLeafValue(jsonTable, "random_seed")
	if !ok {
		job.RandomSeed = 42 // Default value
	} else {
		seedValue, ok := seed.(float64)
		if !ok {
			msg = "random_seed: is not a float64"
			return msg, false
		}
		job.RandomSeed = int64(seedValue)
	}

	outputFolder, ok := getLeafValue(jsonTable, "output_folder")
	if !ok {
		job.OutputFolder = "." // Default: current working directory
	} else {
		job.OutputFolder, ok = outputFolder.(string)
		if !ok {
			msg = "output_folder: is not a string"
			return msg, false
		}
	}

	return msg, true
}
