package insight

// ExtractRequest for POST /extract
type ExtractRequest struct {
	Img      string `json:"img"`       // base64 encoded image
	MaxFaces int    `json:"max_faces"` // 0 = no limit
}

// ExtractResponse from POST /extract
type ExtractResponse struct {
	Faces []ExtractedFace `json:"faces"`
}

type ExtractedFace struct {
	Embedding []float32  `json:"embedding"`
	Box       FacialArea `json:"bbox"`
	DetScore  float32    `json:"det_score"`
	Quality   *float32   `json:"quality,omitempty"`
}

type FacialArea struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}
