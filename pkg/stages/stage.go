// Package stages sequences the five boot stages: generator, local,
// network, config and final.
package stages

import (
	"fmt"
	"strings"

	"github.com/jaspreet-dot-casa/cinit/pkg/status"
)

// Stage is one boot stage.
type Stage int

const (
	Generator Stage = iota
	Local
	Network
	Config
	Final
)

// All lists the stages in boot order.
var All = []Stage{Generator, Local, Network, Config, Final}

func (s Stage) String() string {
	switch s {
	case Generator:
		return "generator"
	case Local:
		return status.StageLocal
	case Network:
		return status.StageNetwork
	case Config:
		return status.StageConfig
	case Final:
		return status.StageFinal
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Blocking describes what the stage holds up during boot.
func (s Stage) Blocking() string {
	switch s {
	case Generator:
		return "unit ordering; no network and no datasource crawl"
	case Local:
		return "network bring-up"
	case Network:
		return "remote login"
	case Config:
		return "nothing"
	case Final:
		return "nothing; runs last"
	}
	return ""
}

// ModuleList returns the config key holding the stage's module list.
func (s Stage) ModuleList() string {
	switch s {
	case Network:
		return "cloud_init_modules"
	case Config:
		return "cloud_config_modules"
	case Final:
		return "cloud_final_modules"
	}
	return ""
}

// prerequisite returns the stage that must have finished during this boot
// before s may run.
func (s Stage) prerequisite() (Stage, bool) {
	switch s {
	case Config:
		return Network, true
	case Final:
		return Config, true
	}
	return 0, false
}

// ParseStage accepts stage names and the module modes init, config, final.
func ParseStage(name string) (Stage, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "generator":
		return Generator, nil
	case "init-local", "local":
		return Local, nil
	case "init", "network":
		return Network, nil
	case "modules-config", "config":
		return Config, nil
	case "modules-final", "final":
		return Final, nil
	}
	return 0, fmt.Errorf("unknown stage %q", name)
}
