package main

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/udit1567/Home.auto/internal/config"
	"github.com/udit1567/Home.auto/internal/detection"
	"github.com/udit1567/Home.auto/internal/detection/remote"
	"github.com/udit1567/Home.auto/internal/detection/yolo"
)

type modelSpec struct {
	kind   detection.Kind
	path   string
	labels string
	url    string
}

// loadModels builds every configured model. Unconfigured kinds are left out
// and their endpoints answer with an inference error.
func loadModels(ctx context.Context, cfg *config.Config) (map[detection.Kind]detection.Model, func(), error) {
	specs := []modelSpec{
		{detection.KindObjects, cfg.ObjectModelPath, cfg.ObjectModelLabels, cfg.ObjectModelURL},
		{detection.KindPlantDisease, cfg.PlantModelPath, cfg.PlantModelLabels, cfg.PlantModelURL},
	}

	models := make(map[detection.Kind]detection.Model)
	var loaded []*yolo.Model
	closeAll := func() {
		for _, m := range loaded {
			if err := m.Close(); err != nil {
				log.WithError(err).Warn("yolo: close session")
			}
		}
	}

	for _, s := range specs {
		switch {
		case s.url != "":
			m := remote.New(s.url, nil)
			if err := m.Ping(ctx); err != nil {
				log.WithError(err).WithField("model", s.kind).Warn("inference service not available")
			}
			models[s.kind] = m
		case s.path != "":
			if err := yolo.InitRuntime(cfg.ORTLibraryPath); err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("onnx runtime: %w", err)
			}
			if s.labels == "" {
				closeAll()
				return nil, nil, fmt.Errorf("%s: labels file is required with a model path", s.kind)
			}
			labels, err := yolo.LoadLabels(s.labels)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			m, err := yolo.NewModel(yolo.Config{
				ModelPath:     s.path,
				Labels:        labels,
				InputSize:     cfg.ModelInputSize,
				ConfThreshold: float32(cfg.ModelConfThreshold),
				IOUThreshold:  float32(cfg.ModelIOUThreshold),
				UseCUDA:       cfg.ORTUseCUDA,
			})
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("%s: %w", s.kind, err)
			}
			loaded = append(loaded, m)
			models[s.kind] = m
		default:
			log.WithField("model", s.kind).Warn("model not configured")
		}
	}
	return models, closeAll, nil
}
