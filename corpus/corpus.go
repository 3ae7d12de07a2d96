// Package corpus reads LJSpeech-style corpora: a delimited metadata file
// mapping utterance ids to transcripts, next to a directory of audio files.
package corpus

type (
	// MetadataRecord is a candidate utterance produced from one metadata line.
	// Its audio file has not been checked yet.
	MetadataRecord struct {
		Line      int
		ID        string
		Text      string
		AudioPath string
	}

	// ValidatedRecord is a MetadataRecord whose AudioPath referenced an
	// existing regular file when it was validated.
	ValidatedRecord MetadataRecord

	Stats struct {
		Lines        int
		Blank        int
		Malformed    int
		MissingAudio int
		Valid        int
	}
)
