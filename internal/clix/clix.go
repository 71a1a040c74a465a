package clix

import (
	"reflect"
	"time"

	"github.com/urfave/cli/v2"
)

// Parse fills a new A from the flags of c, using the `cli:"flag-name"` tag of each field. Untagged struct fields
// are descended into.
func Parse[A any](c *cli.Context) A {
	var cfg A
	assign(c, reflect.ValueOf(&cfg).Elem())
	return cfg
}

func assign(c *cli.Context, val reflect.Value) {
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := val.Type().Field(i)
		if !fieldType.IsExported() {
			continue
		}

		tag := fieldType.Tag.Get("cli")
		if tag == "" {
			if field.Kind() == reflect.Struct {
				assign(c, field)
			}
			continue
		}
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			field.Set(reflect.ValueOf(c.Duration(tag)))
			continue
		}

		switch field.Kind() {
		case reflect.String:
			field.SetString(c.String(tag))
		case reflect.Int:
			field.SetInt(int64(c.Int(tag)))
		case reflect.Int64:
			field.SetInt(c.Int64(tag))
		case reflect.Bool:
			field.SetBool(c.Bool(tag))
		case reflect.Slice:
			if field.Type() == reflect.TypeOf([]string{}) {
				field.Set(reflect.ValueOf(c.StringSlice(tag)))
			}
		}
	}
}
