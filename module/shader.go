package module

import (
	"encoding/json"

	"github.com/lwp001/mixlab/protocol"
)

const KindShader = "shader"

// ShaderParams carries the render dimensions.
type ShaderParams struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Shader produces procedurally rendered video frames. Renderer setup is
// expensive, so it runs as a side-task at creation time; until the result
// arrives the module leaves its output slot empty.
type Shader struct {
	params   ShaderParams
	renderer *shaderRenderer
}

type shaderRenderer struct {
	width  int
	height int
	pix    []byte
}

func init() {
	Register(KindShader, func(env *Environment, data json.RawMessage) (Module, *protocol.Indication, error) {
		params := ShaderParams{Width: 560, Height: 350}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &params); err != nil {
				return nil, nil, err
			}
		}
		params = sanitizeShaderParams(params)

		shader := &Shader{params: params}

		if env != nil && env.Tasks != nil {
			width, height := params.Width, params.Height
			env.Tasks.Spawn(func() any {
				return newShaderRenderer(width, height)
			})
		}

		return shader, nil, nil
	})
}

func sanitizeShaderParams(p ShaderParams) ShaderParams {
	if p.Width <= 0 {
		p.Width = 560
	}
	if p.Height <= 0 {
		p.Height = 350
	}
	return p
}

func newShaderRenderer(width, height int) *shaderRenderer {
	return &shaderRenderer{
		width:  width,
		height: height,
		pix:    make([]byte, width*height),
	}
}

// render produces one grayscale frame. offset drives a simple scanline
// animation so successive ticks differ.
func (r *shaderRenderer) render(offset uint64) *VideoFrame {
	line := int(offset/protocol.SamplesPerTick) % r.height
	for y := 0; y < r.height; y++ {
		value := byte(0)
		if y == line {
			value = 0xff
		}
		row := r.pix[y*r.width : (y+1)*r.width]
		for x := range row {
			row[x] = value
		}
	}

	data := make([]byte, len(r.pix))
	copy(data, r.pix)

	return &VideoFrame{
		Width:        r.width,
		Height:       r.height,
		Data:         data,
		DurationHint: TickDuration,
	}
}

func (s *Shader) ReceiveTaskResult(result any) {
	if renderer, ok := result.(*shaderRenderer); ok {
		s.renderer = renderer
	}
}

func (s *Shader) Params() protocol.ModuleParams {
	return makeParams(KindShader, s.params)
}

func (s *Shader) Inputs() []protocol.Terminal { return nil }

func (s *Shader) Outputs() []protocol.Terminal {
	return []protocol.Terminal{{Label: "Output", Type: protocol.LineVideo}}
}

func (s *Shader) Update(protocol.ModuleParams) *protocol.Indication { return nil }

func (s *Shader) RunTick(offset uint64, _ []InputRef, outputs []*Output) *protocol.Indication {
	if s.renderer == nil {
		return nil
	}
	outputs[0].SetFrame(s.renderer.render(offset))
	return nil
}
