package filetree

import "fmt"

// staticServerJS serves the mounted tree over HTTP for markup-only projects
// that carry no manifest of their own.
const staticServerJS = `const http = require('http');
const fs = require('fs');
const path = require('path');

const port = %d;

const types = {
  '.html': 'text/html',
  '.htm': 'text/html',
  '.css': 'text/css',
  '.js': 'application/javascript',
  '.json': 'application/json',
  '.png': 'image/png',
  '.svg': 'image/svg+xml',
};

const server = http.createServer((req, res) => {
  let file = req.url === '/' ? '/index.html' : req.url;
  const target = path.join(__dirname, file);
  fs.readFile(target, (err, data) => {
    if (err) {
      res.writeHead(404);
      res.end('Not found');
      return;
    }
    res.writeHead(200, { 'Content-Type': types[path.extname(target)] || 'text/plain' });
    res.end(data);
  });
});

server.listen(port, () => {
  console.log('Server running at http://localhost:' + port + '/');
});
`

const defaultIndexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>devmate preview</title>
</head>
<body>
  <h1>Hello World</h1>
</body>
</html>
`

// ScaffoldStaticServer returns a copy of tree prepared for the static-server
// execution strategy: a server.js entry point is always (re)written, and a
// default index.html is added when the tree has no markup at all.
func ScaffoldStaticServer(tree Flat, port int) Flat {
	out := SetFile(tree, "server.js", fmt.Sprintf(staticServerJS, port))
	if !HasMarkup(out) {
		out = SetFile(out, "index.html", defaultIndexHTML)
	}
	return out
}
