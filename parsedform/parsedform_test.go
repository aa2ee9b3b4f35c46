package parsedform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sample = `
import:
  bin:
    - name: log
      path: ./modules/log.so
  mod:
    - name: sub
      path: ./sub.pipe.yaml
pipeline:
  - module: log
    ref: a
  - module: log
    ref: b
    tags:
      after: a
  - module: sub
    tags:
      first: true
`

func TestDecode(t *testing.T) {
	p, err := Decode([]byte(sample))
	require.NoError(t, err)

	require.Len(t, p.Import.Bin, 1)
	require.Equal(t, "log", p.Import.Bin[0].Name)
	require.Len(t, p.Import.Mod, 1)

	require.Len(t, p.Pipeline, 3)
	require.Equal(t, "a", p.Pipeline[0].Ref)
	require.Equal(t, OrderAfter, p.Pipeline[1].Tags.Order)
	require.Equal(t, "a", p.Pipeline[1].Tags.Ref)
	require.Equal(t, OrderFirst, p.Pipeline[2].Tags.Order)
}

func TestTags_RejectsMultipleDirectives(t *testing.T) {
	_, err := Decode([]byte(`
pipeline:
  - module: log
    tags:
      first: true
      last: true
`))
	require.Error(t, err)
}
