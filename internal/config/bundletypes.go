package config

import (
	_ "github.com/build-hub/build-hub/internal/bundletype/css"
	_ "github.com/build-hub/build-hub/internal/bundletype/js"
)
