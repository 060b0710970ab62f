// Package profile implements the named transcoding-profile registry: the
// encoder parameters that configure hardware capture and the post-capture
// transcode parameters, loaded from a directory of YAML files with atomic
// hot-reload.
package profile

// Rect is a crop rectangle, in pixels, applied by the transcoder.
type Rect struct {
	X      int `yaml:"x"`
	Y      int `yaml:"y"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Record is one named profile: the encoder settings used during capture
// plus the post-capture transcode settings.
type Record struct {
	Name string `yaml:"-"`

	// Encoder settings (configure the hardware capture device).
	VideoBitrateAvg int    `yaml:"video_bitrate_avg"`
	VideoBitratePeak int   `yaml:"video_bitrate_peak"`
	AudioSampling   int    `yaml:"audio_sampling"`
	AudioBitrate    int    `yaml:"audio_bitrate"`
	Aspect          string `yaml:"aspect"`
	FrameSize       string `yaml:"frame_size"`
	KeepSource      bool   `yaml:"keep_source"`

	// Transcode settings (configure the external transcoder process).
	UseTranscoding bool   `yaml:"use_transcoding"`
	VideoCodec     string `yaml:"video_codec"`
	AudioCodec     string `yaml:"audio_codec"`
	ContainerExt   string `yaml:"container_ext"`
	TranscodeBitrate int  `yaml:"transcode_bitrate"`
	Passes         int    `yaml:"passes"`
	Crop           *Rect  `yaml:"crop,omitempty"`
	ExtraArgs      string `yaml:"extra_args"`
}

// TranscodeVideoBitrate returns the bitrate used to rank this profile
// against others in a job's profile list when choosing the primary
// (highest-quality) profile for capture.
func (r *Record) TranscodeVideoBitrate() int {
	if r.TranscodeBitrate > 0 {
		return r.TranscodeBitrate
	}
	return r.VideoBitratePeak
}
