// ABOUTME: Broadcaster and receiver for streaming PCM over TCP
// ABOUTME: Top-level package tying the codec, connections and playback engine together
// Package netaudio streams raw PCM from one Broadcaster to many Receivers.
//
// A Broadcaster accepts TCP connections and fans every published message
// out to them. Audio is only offered to a connection once it has flushed
// the previous packet, so one slow receiver never stalls the others:
//
//	b, _ := netaudio.NewBroadcaster(netaudio.BroadcasterConfig{Addr: ":1250"})
//	b.Start()
//	defer b.Stop()
//	b.Stream(ctx, pcm, netaudio.StreamOptions{WaitForClients: true})
//
// A Receiver connects, reconnects when the connection drops, and feeds a
// playback engine whose pull callback drives the audio device:
//
//	r, _ := netaudio.NewReceiver(netaudio.ReceiverConfig{
//		Addr: "speaker-host:1250",
//		Sink: output.NewOto(logger),
//	})
//	r.Start()
//	defer r.Stop()
//
// While disconnected the device keeps pulling and plays silence.
package netaudio
