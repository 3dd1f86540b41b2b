package protocol

// profileSegment is one 8 byte entry of the 32 byte mode profile block:
// a signed position window followed by a float32 gain.
type profileSegment struct {
	min  int16
	max  int16
	gain float32
}

// modeProfile holds the four segments written at offset 0x30 of PROGRAM_PARAMS.
// The coefficients are hand tuned per mode and must not be changed without
// testing on a device.
type modeProfile [4]profileSegment

var modeProfiles = map[ProgramMode]modeProfile{
	OldSchool: {
		{min: 0, max: 20, gain: 3.0},
		{min: 75, max: 600, gain: 50.0},
		{min: -1300, max: -1200, gain: 100.0},
		{min: -260, max: -110, gain: 0.0},
	},
	Pump: {
		{min: 50, max: 450, gain: 10.0},
		{min: 500, max: 600, gain: 50.0},
		{min: -700, max: -550, gain: 1.0},
		{min: -100, max: -50, gain: 1.0},
	},
	TUT: {
		{min: 250, max: 350, gain: 7.0},
		{min: 450, max: 600, gain: 50.0},
		{min: -900, max: -700, gain: 70.0},
		{min: -100, max: -50, gain: 14.0},
	},
	TUTBeast: {
		{min: 150, max: 250, gain: 7.0},
		{min: 350, max: 450, gain: 50.0},
		{min: -900, max: -700, gain: 70.0},
		{min: -100, max: -50, gain: 28.0},
	},
	EccentricOnly: {
		{min: 50, max: 550, gain: 50.0},
		{min: 650, max: 750, gain: 10.0},
		{min: -900, max: -700, gain: 70.0},
		{min: -100, max: -50, gain: 20.0},
	},
}

// echoTuning is the per level gain and cap of ECHO_CONTROL.
type echoTuning struct {
	gain float32
	cap  float32
}

var echoTunings = map[EchoLevel]echoTuning{
	EchoHard:    {gain: 1.0, cap: 50},
	EchoHarder:  {gain: 1.25, cap: 40},
	EchoHardest: {gain: 1.667, cap: 30},
	EchoEpic:    {gain: 3.333, cap: 15},
}

// DefaultColors is the LED scheme sent with INIT_PRESET.
var DefaultColors = []RGB{
	{R: 0x00, G: 0xA8, B: 0xDD},
	{R: 0x00, G: 0xCF, B: 0xFC},
	{R: 0x5D, G: 0xDF, B: 0xFC},
}

// DefaultBrightness is the LED brightness sent with INIT_PRESET.
const DefaultBrightness float32 = 0.4
