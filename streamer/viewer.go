package streamer

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Object Counter</title>
<style>
  body { background: #111; color: #eee; font-family: monospace; margin: 0; display: flex; }
  #frame { max-width: 75vw; max-height: 100vh; }
  #side { padding: 1em; }
  #text div { margin: 0.2em 0; }
  button { margin-top: 1em; padding: 0.4em 1em; }
</style>
</head>
<body>
<img id="frame" alt="stream">
<div id="side">
  <div id="text"></div>
  <button id="exit">Stop</button>
  <div id="status"></div>
</div>
<script>
  const frame = document.getElementById("frame");
  const text = document.getElementById("text");
  const status = document.getElementById("status");
  const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
  ws.onmessage = (ev) => {
    const msg = JSON.parse(ev.data);
    frame.src = "data:image/jpeg;base64," + msg.image;
    text.innerHTML = "";
    for (const line of msg.text) {
      const d = document.createElement("div");
      d.textContent = line;
      text.appendChild(d);
    }
  };
  ws.onclose = () => { status.textContent = "stream closed"; };
  document.getElementById("exit").onclick = () => {
    if (ws.readyState === WebSocket.OPEN) {
      ws.send("exit");
    } else {
      fetch("/api/exit", { method: "POST" });
    }
  };
</script>
</body>
</html>
`
