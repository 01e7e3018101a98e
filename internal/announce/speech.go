package announce

import (
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"strconv"

	log "github.com/sirupsen/logrus"
)

type Piper struct {
	Application string  `yaml:"application"`
	VoiceModel  string  `yaml:"voice_model"`
	LengthScale float64 `yaml:"length_scale" validate:"gte=0"`
}

type Sox struct {
	Application string `yaml:"application"`
}

// Speaker reads text aloud. Say must not block the caller for long.
type Speaker interface {
	Say(text string)
	Close()
}

// preparedAudio holds a running piper process whose raw output is ready to play
type preparedAudio struct {
	piperCmd *exec.Cmd
	piperOut io.ReadCloser
	text     string
}

// PiperSpeaker synthesises with piper and plays the raw audio through sox.
// Synthesis of the next line overlaps playback of the current one.
type PiperSpeaker struct {
	piper      Piper
	sox        Sox
	sampleRate int

	textQueue chan string
	prepQueue chan preparedAudio
	done      chan struct{}
}

func NewPiperSpeaker(piper Piper, sox Sox) *PiperSpeaker {
	if piper.LengthScale == 0 {
		piper.LengthScale = 1.0
	}
	ps := &PiperSpeaker{
		piper:      piper,
		sox:        sox,
		sampleRate: voiceSampleRate(piper.VoiceModel),
		textQueue:  make(chan string, 8),
		prepQueue:  make(chan preparedAudio, 2),
		done:       make(chan struct{}),
	}
	go ps.prepSpeech()
	go ps.player()
	return ps
}

func (ps *PiperSpeaker) Say(text string) {
	select {
	case ps.textQueue <- text:
	default:
		log.Warnf("Speech queue full, not speaking %q", text)
	}
}

// Close waits for queued speech to finish playing.
func (ps *PiperSpeaker) Close() {
	close(ps.textQueue)
	<-ps.done
}

// voiceSampleRate reads the sample rate from the model's piper JSON config.
func voiceSampleRate(model string) int {
	rate := 22050
	f, err := os.Open(model + ".json")
	if err != nil {
		return rate
	}
	defer f.Close()
	var cfg struct {
		Audio struct {
			SampleRate int `json:"sample_rate"`
		} `json:"audio"`
	}
	if err := json.NewDecoder(f).Decode(&cfg); err == nil && cfg.Audio.SampleRate > 0 {
		rate = cfg.Audio.SampleRate
	}
	return rate
}

// prepSpeech picks up text and starts the piper process immediately
func (ps *PiperSpeaker) prepSpeech() {
	defer close(ps.prepQueue)
	for text := range ps.textQueue {
		cmd := exec.Command(ps.piper.Application, "--model", ps.piper.VoiceModel, "--output-raw",
			"--length_scale", strconv.FormatFloat(ps.piper.LengthScale, 'f', -1, 64))
		stdin, err := cmd.StdinPipe()
		if err != nil {
			log.Printf("Error obtaining piper stdin pipe: %v", err)
			continue
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			log.Printf("Error obtaining piper stdout pipe: %v", err)
			continue
		}
		if err := cmd.Start(); err != nil {
			log.Printf("Error starting piper: %v", err)
			continue
		}

		// piper synthesises once stdin is closed
		go func(w io.WriteCloser, t string) {
			defer w.Close()
			if _, err := io.WriteString(w, t); err != nil {
				log.Printf("Error writing to piper stdin: %v", err)
			}
		}(stdin, text)

		ps.prepQueue <- preparedAudio{piperCmd: cmd, piperOut: stdout, text: text}
	}
}

// player pipes prepared piper output to sox, one line at a time
func (ps *PiperSpeaker) player() {
	defer close(ps.done)
	for audio := range ps.prepQueue {
		args := []string{
			"-q", "-t", "raw", "-r", strconv.Itoa(ps.sampleRate), "-e", "signed-integer", "-b", "16", "-c", "1", "-",
			"-d",
		}
		playCmd := exec.Command(ps.sox.Application, args...)
		playCmd.Stdin = audio.piperOut

		log.Debugf("Speaking: %s", audio.text)
		if err := playCmd.Start(); err != nil {
			log.Printf("Error starting sox: %v", err)
			audio.piperOut.Close()
			audio.piperCmd.Wait()
			continue
		}
		// sox must drain the pipe before piper is reaped
		if err := playCmd.Wait(); err != nil {
			log.Printf("Error waiting for sox to finish: %v", err)
		}
		audio.piperOut.Close()
		if err := audio.piperCmd.Wait(); err != nil {
			log.Printf("Error waiting for piper to finish: %v", err)
		}
	}
}
