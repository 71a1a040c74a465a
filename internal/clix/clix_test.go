package clix

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

type inner struct {
	Email string `cli:"email"`
}

type args struct {
	Inner   inner
	List    string        `cli:"list"`
	Lists   []string      `cli:"lists"`
	Force   bool          `cli:"force"`
	Count   int           `cli:"count"`
	Timeout time.Duration `cli:"timeout"`
	ignored string
}

func TestParse(t *testing.T) {
	var got args
	app := &cli.App{
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email"},
			&cli.StringFlag{Name: "list"},
			&cli.StringSliceFlag{Name: "lists"},
			&cli.BoolFlag{Name: "force"},
			&cli.IntFlag{Name: "count", Value: 3},
			&cli.DurationFlag{Name: "timeout"},
		},
		Action: func(c *cli.Context) error {
			got = Parse[args](c)
			return nil
		},
	}

	err := app.Run([]string{"app", "--email", "a@x.com", "--list", "news", "--lists", "a", "--lists", "b", "--force", "--timeout", "2s"})
	require.NoError(t, err)

	assert.Equal(t, "a@x.com", got.Inner.Email)
	assert.Equal(t, "news", got.List)
	assert.Equal(t, []string{"a", "b"}, got.Lists)
	assert.True(t, got.Force)
	assert.Equal(t, 3, got.Count)
	assert.Equal(t, 2*time.Second, got.Timeout)
	assert.Empty(t, got.ignored)
}
