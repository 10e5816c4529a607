package capture

import (
	"encoding/json"
	"fmt"
)

// scriptParams is the single injection point for everything the in-page
// executor needs: correlation id, segment bounds, and every timing constant.
type scriptParams struct {
	Binding         string  `json:"binding"`
	CorrelationID   string  `json:"correlationId"`
	StartSeconds    float64 `json:"startSeconds"`
	EndSeconds      float64 `json:"endSeconds"`
	Speed           float64 `json:"speed"`
	WatchdogMs      int64   `json:"watchdogMs"`
	ReadyBudgetMs   int64   `json:"readyBudgetMs"`
	ReadyPollMs     int64   `json:"readyPollMs"`
	SeekTimeoutMs   int64   `json:"seekTimeoutMs"`
	TimesliceMs     int64   `json:"timesliceMs"`
	MinPayloadBytes int64   `json:"minPayloadBytes"`
}

// ExecutorScript renders the capture executor for one attempt. The script
// never returns anything to its evaluator; every outcome is pushed through
// the relay binding.
func ExecutorScript(p scriptParams) (string, error) {
	if p.Binding == "" || p.CorrelationID == "" {
		return "", fmt.Errorf("executor script requires binding and correlation id")
	}
	blob, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode executor params: %w", err)
	}
	return fmt.Sprintf(executorJS, blob), nil
}

// executorJS drives Initializing -> WaitingForMediaReady -> Seeking ->
// Recording -> Finalizing inside the page main world. Recording runs muted at
// an elevated playback rate so a long segment captures in a fraction of real
// time; the watchdog forces stop-and-flush when the wall-clock budget runs
// out regardless of state.
const executorJS = `(function () {
	'use strict';
	const P = %s;
	const send = (phase, result) => {
		try {
			window[P.binding](JSON.stringify({ correlationId: P.correlationId, phase: phase, result: result || null }));
		} catch (e) {}
	};
	let finished = false;
	let recorder = null;
	let cloned = null;
	let watchdogTimer = null;
	let watchdogFired = false;
	const video = document.querySelector('video');

	const cleanup = () => {
		if (watchdogTimer) { clearTimeout(watchdogTimer); watchdogTimer = null; }
		if (recorder && recorder.state !== 'inactive') { try { recorder.stop(); } catch (e) {} }
		if (cloned) { cloned.getTracks().forEach((t) => { try { t.stop(); } catch (e) {} }); cloned = null; }
		if (video) { try { video.playbackRate = 1; } catch (e) {} }
	};
	const fail = (kind, message, diagnostics) => {
		if (finished) { return; }
		finished = true;
		cleanup();
		send('Result', { ok: false, kind: kind, message: message || '', diagnostics: diagnostics || null });
	};
	const diag = () => video ? {
		readiness: video.readyState,
		videoWidth: video.videoWidth,
		videoHeight: video.videoHeight,
		networkState: video.networkState,
	} : null;

	send('Started', null);

	if (!video) { fail('NoMediaElement', 'no video element in page'); return; }
	const capture = video.captureStream || video.mozCaptureStream;
	if (typeof capture !== 'function' || typeof MediaRecorder === 'undefined') {
		fail('CaptureUnsupported', 'captureStream or MediaRecorder unavailable');
		return;
	}

	const nudge = () => {
		video.muted = true;
		const r = video.play();
		if (r && typeof r.catch === 'function') { r.catch(() => {}); }
		const btn = document.querySelector('.ytp-play-button');
		if (btn && video.paused) { try { btn.click(); } catch (e) {} }
	};

	const waitReady = (onReady) => {
		const startedAt = Date.now();
		const poll = () => {
			if (finished) { return; }
			const ready = video.readyState >= 3 &&
				isFinite(video.duration) && video.duration > 0 &&
				(video.videoWidth > 0 || video.videoHeight > 0);
			if (ready) { onReady(); return; }
			if (Date.now() - startedAt > P.readyBudgetMs) {
				fail('MediaNeverReady', 'media element never became ready', diag());
				return;
			}
			nudge();
			setTimeout(poll, P.readyPollMs);
		};
		poll();
	};

	const seek = (onDone) => {
		if (Math.abs(video.currentTime - P.startSeconds) < 0.5) { onDone(); return; }
		let acked = false;
		const done = () => {
			if (acked || finished) { return; }
			acked = true;
			video.removeEventListener('seeked', done);
			onDone();
		};
		video.addEventListener('seeked', done);
		try { video.currentTime = P.startSeconds; } catch (e) {}
		setTimeout(done, P.seekTimeoutMs);
	};

	const finalize = (chunks) => {
		if (finished) { return; }
		if (!chunks.length) {
			fail(watchdogFired ? 'WatchdogTimeout' : 'RecorderError', 'recorder produced no data', diag());
			return;
		}
		const blob = new Blob(chunks, { type: (recorder && recorder.mimeType) || 'video/webm' });
		if (blob.size < P.minPayloadBytes) {
			fail('PayloadTooSmall', 'payload of ' + blob.size + ' bytes below plausible minimum', diag());
			return;
		}
		const reader = new FileReader();
		reader.onerror = () => fail('RecorderError', 'failed to encode payload');
		reader.onload = () => {
			if (finished) { return; }
			finished = true;
			const dataUrl = String(reader.result);
			const b64 = dataUrl.slice(dataUrl.indexOf(',') + 1);
			const end = video.currentTime || P.endSeconds;
			cleanup();
			send('Result', {
				ok: true,
				mimeType: blob.type,
				dataBase64: b64,
				actualStart: P.startSeconds,
				actualEnd: end,
				sizeBytes: blob.size,
			});
		};
		reader.readAsDataURL(blob);
	};

	const record = () => {
		if (finished) { return; }
		let live;
		try { live = capture.call(video); } catch (e) {
			fail('RecorderError', 'captureStream failed: ' + e);
			return;
		}
		const tracks = live.getTracks();
		if (!tracks.length) {
			fail('DrmProtected', 'capture produced zero tracks on a ready element', diag());
			return;
		}
		cloned = new MediaStream(tracks.map((t) => t.clone()));
		const mimeType = MediaRecorder.isTypeSupported('video/webm;codecs=vp9,opus')
			? 'video/webm;codecs=vp9,opus' : 'video/webm';
		try { recorder = new MediaRecorder(cloned, { mimeType: mimeType }); }
		catch (e) { fail('RecorderError', 'MediaRecorder construction failed: ' + e); return; }

		const chunks = [];
		let stopped = false;
		const onTime = () => { if (video.currentTime >= P.endSeconds) { stopOnce('bounds'); } };
		const onEnded = () => stopOnce('ended');
		const stopOnce = (why) => {
			if (stopped) { return; }
			stopped = true;
			if (why === 'watchdog') { watchdogFired = true; }
			video.removeEventListener('timeupdate', onTime);
			video.removeEventListener('ended', onEnded);
			try { if (recorder.state !== 'inactive') { recorder.stop(); } }
			catch (e) { fail('RecorderError', 'recorder stop failed: ' + e); }
		};

		recorder.ondataavailable = (e) => { if (e.data && e.data.size > 0) { chunks.push(e.data); } };
		recorder.onerror = (e) => fail('RecorderError', 'recorder error: ' + (e.error || e));
		recorder.onstop = () => finalize(chunks);

		video.addEventListener('timeupdate', onTime);
		video.addEventListener('ended', onEnded);

		video.muted = true;
		video.playbackRate = P.speed;
		const r = video.play();
		if (r && typeof r.catch === 'function') { r.catch(() => {}); }
		recorder.start(P.timesliceMs);

		watchdogTimer = setTimeout(() => stopOnce('watchdog'), P.watchdogMs);
	};

	setTimeout(() => fail('WatchdogTimeout', 'capture budget exceeded before finalizing', diag()),
		P.watchdogMs + P.readyBudgetMs + P.seekTimeoutMs);

	waitReady(() => seek(record));
})();`
