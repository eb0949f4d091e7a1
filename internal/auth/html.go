package auth

// loginSuccessHTML is the page shown in the user's browser after the
// provider redirects back with an authorization code. Purely informational;
// the flow continues in the client process.
const loginSuccessHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Authentication Successful</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            margin: 0;
            background: linear-gradient(135deg, #667eea 0%, #764ba2 100%);
        }
        .container {
            text-align: center;
            background: white;
            padding: 2.5rem;
            border-radius: 12px;
            box-shadow: 0 10px 25px rgba(0,0,0,0.1);
            max-width: 480px;
        }
        h1 { color: #10b981; font-size: 1.75rem; }
        p { color: #6b7280; line-height: 1.5; }
    </style>
</head>
<body>
    <div class="container">
        <h1>&#10003; Authentication Successful</h1>
        <p>You have successfully authenticated with the external model provider.</p>
        <p>You can now close this window and return to the editor.</p>
    </div>
</body>
</html>`

// loginFailureHTML is shown when the provider redirects back with an error
// parameter instead of an authorization code.
const loginFailureHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Authentication Failed</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            margin: 0;
            background: linear-gradient(135deg, #667eea 0%, #764ba2 100%);
        }
        .container {
            text-align: center;
            background: white;
            padding: 2.5rem;
            border-radius: 12px;
            box-shadow: 0 10px 25px rgba(0,0,0,0.1);
            max-width: 480px;
        }
        h1 { color: #ef4444; font-size: 1.75rem; }
        p { color: #6b7280; line-height: 1.5; }
    </style>
</head>
<body>
    <div class="container">
        <h1>&#10007; Authentication Failed</h1>
        <p>The authorization request was not completed.</p>
        <p>You can close this window and try again from the editor.</p>
    </div>
</body>
</html>`
