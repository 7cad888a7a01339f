package gpucore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKernelDescValidate(t *testing.T) {
	ok := KernelDesc{
		Label:     "k",
		Bindings:  []BindingDecl{{Name: "params", Access: AccessUniform}, {Name: "out", Access: AccessReadWrite}},
		Workgroup: [3]uint32{8, 8, 1},
	}

	tests := []struct {
		name   string
		mutate func(d *KernelDesc)
		valid  bool
	}{
		{"valid", func(*KernelDesc) {}, true},
		{"no label", func(d *KernelDesc) { d.Label = "" }, false},
		{"no bindings", func(d *KernelDesc) { d.Bindings = nil }, false},
		{"empty binding name", func(d *KernelDesc) { d.Bindings = []BindingDecl{{Access: AccessRead}} }, false},
		{"duplicate binding", func(d *KernelDesc) {
			d.Bindings = []BindingDecl{{Name: "a", Access: AccessRead}, {Name: "a", Access: AccessReadWrite}}
		}, false},
		{"zero workgroup", func(d *KernelDesc) { d.Workgroup = [3]uint32{8, 0, 1} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ok
			d.Bindings = append([]BindingDecl(nil), ok.Bindings...)
			tt.mutate(&d)
			err := d.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidKernel), "got %v", err)
			}
		})
	}
}

func TestKernelDescReadsWrites(t *testing.T) {
	d := KernelDesc{Bindings: []BindingDecl{
		{Name: "params", Access: AccessUniform},
		{Name: "gray", Access: AccessRead},
		{Name: "corners", Access: AccessReadWrite},
		{Name: "counter", Access: AccessReadWrite},
	}}
	assert.Equal(t, []string{"params", "gray"}, d.Reads())
	assert.Equal(t, []string{"corners", "counter"}, d.Writes())
}

func TestGroups(t *testing.T) {
	tests := []struct {
		n, wg, want uint32
	}{
		{0, 8, 0},
		{1, 8, 1},
		{8, 8, 1},
		{9, 8, 2},
		{64, 64, 1},
		{65, 64, 2},
		{5, 0, 0},
	}
	for _, tt := range tests {
		if got := Groups(tt.n, tt.wg); got != tt.want {
			t.Errorf("Groups(%d, %d) = %d, want %d", tt.n, tt.wg, got, tt.want)
		}
	}
}

func TestWordBytesRoundTrip(t *testing.T) {
	words := []uint32{0, 1, 0xdeadbeef, 0xffffffff}
	b := WordsToBytes(words)
	assert.Equal(t, []byte{0, 0, 0, 0, 1, 0, 0, 0, 0xef, 0xbe, 0xad, 0xde, 0xff, 0xff, 0xff, 0xff}, b)
	assert.Equal(t, words, BytesToWords(b))
	assert.Equal(t, []uint32{1}, BytesToWords([]byte{1, 0, 0, 0, 9}))
}

func TestAccessString(t *testing.T) {
	assert.Equal(t, "uniform", AccessUniform.String())
	assert.Equal(t, "read", AccessRead.String())
	assert.Equal(t, "read_write", AccessReadWrite.String())
	assert.Equal(t, "Access(9)", Access(9).String())
	assert.True(t, AccessReadWrite.Writes())
	assert.False(t, AccessRead.Writes())
}
