package profiles

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"sigs.k8s.io/yaml"

	"github.com/just-work/video-transcoding/errors"
)

// PresetSchemaDefinition validates preset documents before decoding, so
// a malformed catalog row or operator file fails the job up front with
// a readable message instead of half-initialized track specs.
var PresetSchemaDefinition = `{
	"type": "object",
	"properties": {
		"video": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"properties": {
					"condition": {
						"type": "object",
						"properties": {
							"min_width": {"type": "integer"},
							"min_height": {"type": "integer"},
							"min_bitrate": {"type": "integer"},
							"min_frame_rate": {"type": "number"},
							"min_dar": {"type": "number"},
							"max_dar": {"type": "number"}
						},
						"additionalProperties": false
					},
					"tracks": {
						"type": "array",
						"minItems": 1,
						"items": {"type": "string"}
					}
				},
				"additionalProperties": false,
				"required": ["tracks"]
			}
		},
		"audio": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"properties": {
					"condition": {
						"type": "object",
						"properties": {
							"min_sample_rate": {"type": "integer"},
							"min_bitrate": {"type": "integer"},
							"min_channels": {"type": "integer"}
						},
						"additionalProperties": false
					},
					"tracks": {
						"type": "array",
						"minItems": 1,
						"items": {"type": "string"}
					}
				},
				"additionalProperties": false,
				"required": ["tracks"]
			}
		},
		"video_tracks": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"properties": {
					"id": {"type": "string"},
					"codec": {"type": "string"},
					"preset": {"type": "string"},
					"constant_rate_factor": {"type": "integer"},
					"max_rate": {"type": "integer"},
					"buf_size": {"type": "integer"},
					"profile": {"type": "string"},
					"pix_fmt": {"type": "string"},
					"width": {"type": "integer"},
					"height": {"type": "integer"},
					"frame_rate": {"type": "number"},
					"gop_size": {"type": "integer"},
					"force_key_frames": {"type": "string"}
				},
				"additionalProperties": false,
				"required": [
					"id",
					"codec",
					"max_rate",
					"buf_size",
					"width",
					"height",
					"frame_rate"
				]
			}
		},
		"audio_tracks": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"properties": {
					"id": {"type": "string"},
					"codec": {"type": "string"},
					"bitrate": {"type": "integer"},
					"channels": {"type": "integer"},
					"sample_rate": {"type": "integer"}
				},
				"additionalProperties": false,
				"required": [
					"id",
					"codec",
					"bitrate",
					"channels",
					"sample_rate"
				]
			}
		}
	},
	"additionalProperties": false,
	"required": ["video", "audio", "video_tracks", "audio_tracks"]
}`

func compilePresetSchema() *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(PresetSchemaDefinition))
	if err != nil {
		// raise panic on program start
		panic(err) // fix schema text
	}
	return schema
}

var presetSchema = compilePresetSchema()

// Decode validates a JSON preset document against the schema and
// decodes it.
func Decode(data []byte) (Preset, error) {
	result, err := presetSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Preset{}, errors.Wrap(errors.Profile, err, "reading preset document")
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			details = append(details, re.String())
		}
		return Preset{}, errors.Newf(errors.Profile,
			"invalid preset: %s", strings.Join(details, "; "))
	}
	var preset Preset
	if err := json.Unmarshal(data, &preset); err != nil {
		return Preset{}, errors.Wrap(errors.Profile, err, "decoding preset")
	}
	return preset, nil
}

// LoadFile reads a preset from an operator-supplied file, YAML or JSON
// by extension.
func LoadFile(path string) (Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Preset{}, errors.Wrap(errors.Profile, err, "reading preset file")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if data, err = yaml.YAMLToJSON(data); err != nil {
			return Preset{}, errors.Wrap(errors.Profile, err, "converting preset file")
		}
	}
	return Decode(data)
}
