package app

import (
	"github.com/vk/grainload/internal/registry"
	configmod "github.com/vk/grainload/modules/config"
	"github.com/vk/grainload/modules/environ"
	"github.com/vk/grainload/modules/grains"
	httpmod "github.com/vk/grainload/modules/http"
	"github.com/vk/grainload/modules/matchers"
	"github.com/vk/grainload/modules/pillar"
	statesysctl "github.com/vk/grainload/modules/states/sysctl"
	"github.com/vk/grainload/modules/sysctl"
	"github.com/vk/grainload/modules/test"
	"github.com/vk/grainload/modules/utils/data"
)

// coreModules is the definitive list of all modules that are compiled into
// the grainload binary.
var coreModules = []registry.Module{
	&test.Module{},
	&grains.Module{},
	&pillar.Module{},
	&configmod.Module{},
	&environ.Module{},
	&httpmod.Module{},
	&sysctl.Module{},
	&statesysctl.Module{},
	&matchers.Module{},
	&data.Module{},
}
