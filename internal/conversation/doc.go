// Package conversation runs the voice conversation for one session key.
//
// Initiate greets the user, personalizing the opening from their stored
// facts when they can be decrypted. Turn takes an uploaded recording through
// normalization, speech recognition, the language model and speech synthesis.
// Recognition, completion and synthesis failures degrade to fixed fallback
// texts so the user always receives a reply; only a failure to normalize the
// upload aborts the turn, leaving history untouched. Finalize hands a copy
// of the session to the archiver and clears live state immediately.
package conversation
