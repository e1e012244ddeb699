package main

import (
	"fmt"
	"net/http"
	"time"
)

type target struct {
	Endpoint string
	Method   string
	Path     string
	Weight   int
	// Pipeline targets upload a fresh package and drive it to commit.
	Pipeline bool
}

type profile struct {
	Name              string
	VUs               int
	Duration          time.Duration
	PersonsPerPackage int
	DefaultP99MS      int
	Targets           []target
}

func builtinProfile(name string) (profile, error) {
	reads := []target{
		{Endpoint: "GET /packages", Method: http.MethodGet, Path: "/import/api/packages?page_size=25", Weight: 4},
		{Endpoint: "GET /conflicts", Method: http.MethodGet, Path: "/import/api/conflicts?status=pending", Weight: 2},
		{Endpoint: "GET /conflicts/summary", Method: http.MethodGet, Path: "/import/api/conflicts/summary", Weight: 1},
	}
	pipeline := target{Endpoint: "pipeline", Weight: 3, Pipeline: true}

	switch name {
	case "import_smoke":
		return profile{
			Name:              name,
			VUs:               1,
			Duration:          30 * time.Second,
			PersonsPerPackage: 5,
			DefaultP99MS:      2000,
			Targets:           append([]target{pipeline}, reads...),
		}, nil
	case "import_steady":
		return profile{
			Name:              name,
			VUs:               4,
			Duration:          2 * time.Minute,
			PersonsPerPackage: 50,
			DefaultP99MS:      3000,
			Targets:           append([]target{pipeline}, reads...),
		}, nil
	case "import_read_heavy":
		pipeline.Weight = 1
		return profile{
			Name:              name,
			VUs:               16,
			Duration:          time.Minute,
			PersonsPerPackage: 10,
			DefaultP99MS:      500,
			Targets:           append([]target{pipeline}, reads...),
		}, nil
	default:
		return profile{}, fmt.Errorf("unknown profile: %s (expected import_smoke|import_steady|import_read_heavy)", name)
	}
}
