package config

import (
	"reflect"
	"strings"
)

func reflectConfigType() reflect.Type { return reflect.TypeOf(Config{}) }

func replaceLine(s, old, new string) string { return strings.Replace(s, old, new, 1) }
